package app

import (
	"context"
	"strings"

	"github.com/ggonzalez94/xquotes/internal/model"
	"github.com/spf13/cobra"
)

// providerView is a registry row joined with the built-in adapter metadata.
type providerView struct {
	model.ProviderConfig
	Info *model.ProviderInfo `json:"info,omitempty"`
}

func (s *runtimeState) newProvidersCommand() *cobra.Command {
	root := &cobra.Command{Use: "providers", Short: "Manage the provider registry"}

	var includeDeleted bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List registered providers",
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := s.store.List(cmd.Context(), includeDeleted)
			if err != nil {
				return err
			}
			infos := map[string]model.ProviderInfo{}
			for name, catalog := range s.catalogs {
				infos[name] = catalog.Info()
			}
			infos["coingecko"] = s.spot.Info()

			data := make([]providerView, 0, len(rows))
			for _, row := range rows {
				view := providerView{ProviderConfig: row}
				if info, ok := infos[row.Name]; ok {
					view.Info = &info
				}
				data = append(data, view)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, nil, cacheMetaBypass(), nil, false)
		},
	}
	list.Flags().BoolVar(&includeDeleted, "all", false, "Include removed providers")

	var (
		kind     string
		endpoint string
		apiKey   string
		disabled bool
	)
	add := &cobra.Command{
		Use:   "add <name>",
		Short: "Register a provider endpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := s.store.Add(cmd.Context(), model.ProviderConfig{
				Name:     args[0],
				Kind:     kind,
				Endpoint: endpoint,
				APIKey:   apiKey,
				Active:   !disabled,
			})
			if err != nil {
				return err
			}
			s.invalidateCatalog(cmd.Context(), cfg.Name)
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), cfg, nil, cacheMetaBypass(), nil, false)
		},
	}
	add.Flags().StringVar(&kind, "kind", "", "Provider kind (aggregator|bridge)")
	add.Flags().StringVar(&endpoint, "endpoint", "", "Base URL (https; http only for loopback)")
	add.Flags().StringVar(&apiKey, "api-key", "", "API key sent with quote requests")
	add.Flags().BoolVar(&disabled, "disabled", false, "Register without enabling")
	_ = add.MarkFlagRequired("kind")

	remove := s.providerMutation("remove <name>", "Remove a provider (soft delete)", func(ctx context.Context, name string) error {
		return s.store.Remove(ctx, name)
	})
	enable := s.providerMutation("enable <name>", "Include a provider in quotes", func(ctx context.Context, name string) error {
		return s.store.SetActive(ctx, name, true)
	})
	disable := s.providerMutation("disable <name>", "Exclude a provider from quotes", func(ctx context.Context, name string) error {
		return s.store.SetActive(ctx, name, false)
	})

	root.AddCommand(list, add, remove, enable, disable)
	return root
}

func (s *runtimeState) providerMutation(use, short string, apply func(ctx context.Context, name string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.ToLower(strings.TrimSpace(args[0]))
			if err := apply(cmd.Context(), name); err != nil {
				return err
			}
			s.invalidateCatalog(cmd.Context(), name)
			rows, err := s.store.List(cmd.Context(), true)
			if err != nil {
				return err
			}
			for _, row := range rows {
				if row.Name == name {
					return s.emitSuccess(trimRootPath(cmd.CommandPath()), row, nil, cacheMetaBypass(), nil, false)
				}
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), map[string]string{"name": name}, nil, cacheMetaBypass(), nil, false)
		},
	}
}

// invalidateCatalog drops cached chain and token lists for a provider.
func (s *runtimeState) invalidateCatalog(ctx context.Context, name string) {
	if s.cache == nil {
		return
	}
	for _, ns := range []string{"chains:" + name, "tokens:" + name} {
		if _, err := s.cache.DeletePrefix(ctx, ns); err != nil {
			s.log.WithError(err).WithField("namespace", ns).Warn("cache invalidation failed")
		}
	}
}
