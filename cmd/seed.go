package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"rescue/dispatch/internal/dispatch"
	"rescue/dispatch/internal/server"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"
)

type seedData struct {
	Incidents []seedIncident `json:"incidents" validate:"dive"`
	Units     []seedUnit     `json:"units" validate:"dive"`
}

type seedIncident struct {
	ID            int64      `json:"id" validate:"required,gt=0"`
	Title         string     `json:"title"`
	EmergencyType string     `json:"emergency_type" validate:"required"`
	Severity      string     `json:"severity" validate:"required,oneof=low medium high critical"`
	Location      string     `json:"location" validate:"required"`
	Description   string     `json:"description"`
	ReportedAt    *time.Time `json:"reported_at"`
}

type seedUnit struct {
	Name     string        `json:"name" validate:"required"`
	Type     string        `json:"type" validate:"required"`
	Inactive bool          `json:"inactive"`
	Members  []seedMember  `json:"members" validate:"dive"`
	Vehicles []seedVehicle `json:"vehicles" validate:"dive"`
}

type seedMember struct {
	Name   string `json:"name" validate:"required"`
	Email  string `json:"email" validate:"omitempty,email"`
	UserID string `json:"user_id"`
}

type seedVehicle struct {
	ID   int64  `json:"id" validate:"required,gt=0"`
	Name string `json:"name" validate:"required"`
	Type string `json:"type"`
}

type seedCounts struct {
	Incidents, Units, Members, Vehicles int
}

var seedCmd = &cobra.Command{
	Use:   "seed FILE",
	Short: "Load incidents, units, rosters and vehicles from a JSON file",
	Long: "Incidents are upserted by id. Units are always created, so loading the same " +
		"file twice registers its units twice.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		store, pool, err := server.OpenStore(ctx, cfg, logger)
		if err != nil {
			return err
		}
		if pool != nil {
			defer pool.Close()
		}

		counts, err := seedFile(ctx, store, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "loaded %d incidents, %d units, %d members, %d vehicles\n",
			counts.Incidents, counts.Units, counts.Members, counts.Vehicles)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

func seedFile(ctx context.Context, reg dispatch.Registry, path string) (seedCounts, error) {
	f, err := os.Open(path)
	if err != nil {
		return seedCounts{}, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()
	return seed(ctx, reg, f)
}

func seed(ctx context.Context, reg dispatch.Registry, r io.Reader) (seedCounts, error) {
	var (
		data   seedData
		counts seedCounts
	)
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&data); err != nil {
		return counts, fmt.Errorf("decode seed data: %w", err)
	}
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(data); err != nil {
		return counts, fmt.Errorf("invalid seed data: %w", err)
	}

	for _, in := range data.Incidents {
		rec := dispatch.NewIncident{
			ID:            in.ID,
			Title:         in.Title,
			EmergencyType: in.EmergencyType,
			Severity:      dispatch.Severity(in.Severity),
			Location:      in.Location,
			Description:   in.Description,
		}
		if in.ReportedAt != nil {
			rec.ReportedAt = in.ReportedAt.UTC()
		}
		if _, err := reg.UpsertIncident(ctx, rec); err != nil {
			return counts, fmt.Errorf("incident %d: %w", in.ID, err)
		}
		counts.Incidents++
	}

	for _, su := range data.Units {
		unit, err := reg.CreateUnit(ctx, dispatch.NewUnit{Name: su.Name, Type: su.Type})
		if err != nil {
			return counts, fmt.Errorf("unit %s: %w", su.Name, err)
		}
		counts.Units++
		for _, m := range su.Members {
			if _, err := reg.AddMember(ctx, dispatch.Member{UnitID: unit.ID, Name: m.Name, Email: m.Email, UserID: m.UserID}); err != nil {
				return counts, fmt.Errorf("unit %s member %s: %w", su.Name, m.Name, err)
			}
			counts.Members++
		}
		for _, v := range su.Vehicles {
			if _, err := reg.RegisterVehicle(ctx, dispatch.Vehicle{ID: v.ID, UnitID: unit.ID, Name: v.Name, Type: v.Type}); err != nil {
				return counts, fmt.Errorf("unit %s vehicle %d: %w", su.Name, v.ID, err)
			}
			counts.Vehicles++
		}
		if su.Inactive {
			if err := reg.SetUnitStatus(ctx, unit.ID, dispatch.UnitStatusInactive); err != nil {
				return counts, fmt.Errorf("unit %s: %w", su.Name, err)
			}
		}
	}
	return counts, nil
}
