package store

import (
	"context"

	"github.com/Ilnur7571/INVEST-Checker-Agent/internal/model"
)

// Export returns every record in id order, which is also creation order.
func Export(ctx context.Context, s Store) ([]model.Record, error) {
	records := []model.Record{}
	for rec, err := range s.All(ctx) {
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}
