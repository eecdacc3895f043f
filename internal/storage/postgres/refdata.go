package postgres

import (
	"context"
	"fmt"
)

// ZipsForState returns the reference zip codes of a state, sorted. The
// geo_zips table is loaded out of band; an empty result means the state has
// no coverage.
func (s *Store) ZipsForState(ctx context.Context, state string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT zip FROM geo_zips WHERE state = $1 ORDER BY zip`, state)
	if err != nil {
		return nil, fmt.Errorf("zips for state %s: %w", state, err)
	}
	defer rows.Close()

	var zips []string
	for rows.Next() {
		var zip string
		if err := rows.Scan(&zip); err != nil {
			return nil, fmt.Errorf("scan zip: %w", err)
		}
		zips = append(zips, zip)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("zips for state %s: %w", state, err)
	}
	return zips, nil
}
