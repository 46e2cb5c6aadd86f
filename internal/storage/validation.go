package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/shelfsync/shelfsync/internal/model"
)

func validateContext(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("context cannot be nil")
	}
	return ctx.Err()
}

func validateString(value, name string) error {
	if value == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}
	return nil
}

func validateDate(date time.Time, name string) error {
	if date.IsZero() {
		return fmt.Errorf("%s cannot be zero", name)
	}
	return nil
}

func validateMapping(mapping *model.ManualMapping) error {
	if mapping == nil {
		return fmt.Errorf("mapping cannot be nil")
	}
	if err := validateString(mapping.SourceIdentifier, "source identifier"); err != nil {
		return err
	}
	if err := validateString(mapping.EntityID, "entity id"); err != nil {
		return err
	}
	if mapping.EntityType != model.EntityTypeNode && mapping.EntityType != model.EntityTypeProduct {
		return fmt.Errorf("invalid entity type %q", mapping.EntityType)
	}
	return nil
}

// dateKey formats a processing date the way date columns store it.
func dateKey(date time.Time) string {
	return date.Format("2006-01-02")
}
