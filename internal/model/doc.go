// Package model defines shared data types used across the marketboard core.
//
// Conventions:
//   - Prices: int64 gil per unit
//   - Timestamps: time.Time in UTC
//   - IDs: int32-backed named types for game entities, uuid.UUID for
//     upstream-assigned listing and retainer ids
package model
