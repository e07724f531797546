package entity

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestProperty_CreateGetRoundTrip validates that any created record reads
// back with identical fields and one shared creation instant, across
// generated field sets.
func TestProperty_CreateGetRoundTrip(t *testing.T) {
	repo := newTaskRepo(t)
	ctx := context.Background()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("created records read back unchanged", prop.ForAll(
		func(title, status string, priority int, done bool) bool {
			id, err := repo.Create(ctx, &Task{Title: title, Status: status, Priority: priority, Done: done})
			if err != nil {
				return false
			}

			got, err := repo.Get(ctx, id)
			if err != nil || got == nil {
				return false
			}

			return got.ID == id &&
				got.Title == title &&
				got.Status == status &&
				got.Priority == priority &&
				got.Done == done &&
				!got.CreatedAt.IsZero() &&
				got.CreatedAt.Equal(got.UpdatedAt)
		},
		gen.AnyString(),
		gen.AnyString(),
		gen.Int(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
