package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/kjstillabower/city-weather-service/internal/models"
	"github.com/kjstillabower/city-weather-service/internal/store"
	"github.com/kjstillabower/city-weather-service/internal/validation"
)

const closeTimeout = 5 * time.Second

// withApp builds the pipeline, runs fn and releases the pipeline afterwards.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, a *app) error) error {
	a, err := newApp(opts)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		a.close(ctx)
	}()
	return fn(cmd.Context(), a)
}

func printJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// identityFlags are the --city and --country flags shared by lookup and cache invalidate.
type identityFlags struct {
	city    string
	country string
}

func (f *identityFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.city, "city", "", "City name (required)")
	cmd.Flags().StringVar(&f.country, "country", "", "Optional country or region qualifier")
	_ = cmd.MarkFlagRequired("city")
}

func (f *identityFlags) validate() (validation.Query, error) {
	return validation.ValidateQuery(f.city, f.country)
}

func newLookupCommand(opts *rootOptions) *cobra.Command {
	var id identityFlags
	cmd := &cobra.Command{
		Use:   "lookup",
		Short: "Fetch current weather for one city through the pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := id.validate()
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				return runLookup(ctx, a, cmd.OutOrStdout(), q)
			})
		},
	}
	id.register(cmd)
	return cmd
}

type lookupOutput struct {
	Data     models.Observation `json:"data"`
	Source   models.Provenance  `json:"source"`
	Warnings []string           `json:"warnings"`
}

func runLookup(ctx context.Context, a *app, out io.Writer, q validation.Query) error {
	result, err := a.svc.GetWeather(ctx, q.City, q.Country)
	if err != nil {
		return err
	}
	warnings := result.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	return printJSON(out, lookupOutput{Data: result.Observation, Source: result.Provenance, Warnings: warnings})
}

func newCacheCommand(opts *rootOptions) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Hot cache administration",
	}

	var id identityFlags
	invalidateCmd := &cobra.Command{
		Use:   "invalidate",
		Short: "Drop one city from the hot cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := id.validate()
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if err := a.svc.Invalidate(ctx, q.City, q.Country); err != nil {
					return err
				}
				city, country := models.NormalizeIdentity(q.City, q.Country)
				fmt.Fprintf(cmd.OutOrStdout(), "invalidated %s\n", models.Identity{City: city, Country: country})
				return nil
			})
		},
	}
	id.register(invalidateCmd)

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop every entry from the hot cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if err := a.svc.ClearCache(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "cache cleared")
				return nil
			})
		},
	}

	cacheCmd.AddCommand(invalidateCmd, clearCmd)
	return cacheCmd
}

func newHistoryCommand(opts *rootOptions) *cobra.Command {
	var (
		city, country string
		limit, offset int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List persisted observations, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			hq, err := validation.ValidateHistoryQuery(city, country, limit, offset)
			if err != nil {
				return err
			}
			filter := store.ListFilter{
				City:       hq.City,
				Country:    hq.Country,
				HasCountry: cmd.Flags().Changed("country"),
				Limit:      hq.Limit,
				Offset:     hq.Offset,
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				return runHistory(ctx, a, cmd.OutOrStdout(), filter)
			})
		},
	}
	cmd.Flags().StringVar(&city, "city", "", "Only this city")
	cmd.Flags().StringVar(&country, "country", "", "Only this country; pass --country= for the default region")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum observations to print")
	cmd.Flags().IntVar(&offset, "offset", 0, "Observations to skip")
	return cmd
}

func runHistory(ctx context.Context, a *app, out io.Writer, filter store.ListFilter) error {
	list, err := a.svc.History(ctx, filter)
	if err != nil {
		return err
	}
	if list == nil {
		list = []models.Observation{}
	}
	return printJSON(out, list)
}
