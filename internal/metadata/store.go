package metadata

import (
	"context"
	"errors"
	"fmt"
)

// Store reads and writes records keyed by lowercase external address.
type Store interface {
	// Get returns ErrNotFound when no record exists.
	Get(ctx context.Context, address string) (*Record, error)

	// Put overwrites the record for address.
	Put(ctx context.Context, address string, rec *Record) error
}

// Replacer is implemented by stores that refuse identity changes on Put.
// Replace swaps in the record of a wallet that took the place of
// previousWalletID.
type Replacer interface {
	Replace(ctx context.Context, address, previousWalletID string,
		rec *Record) error
}

// Replace writes rec in place of the record of previousWalletID.
func Replace(ctx context.Context, s Store, address, previousWalletID string,
	rec *Record) error {

	if r, ok := s.(Replacer); ok {
		return r.Replace(ctx, address, previousWalletID, rec)
	}
	return s.Put(ctx, address, rec)
}

// Update applies mutate to a copy of the existing record and writes it
// back. Fields mutate does not touch are preserved. It fails with
// ErrNotFound when there is no record yet.
func Update(ctx context.Context, s Store, address string,
	mutate func(*Record) error) (*Record, error) {

	existing, err := s.Get(ctx, address)
	if err != nil {
		return nil, err
	}

	return write(ctx, s, address, existing, mutate)
}

// Upsert is like Update but starts from an empty record when none exists.
func Upsert(ctx context.Context, s Store, address string,
	mutate func(*Record) error) (*Record, error) {

	existing, err := s.Get(ctx, address)
	switch {
	case errors.Is(err, ErrNotFound):
		existing = &Record{}

	case err != nil:
		return nil, err
	}

	return write(ctx, s, address, existing, mutate)
}

func write(ctx context.Context, s Store, address string, existing *Record,
	mutate func(*Record) error) (*Record, error) {

	next := existing.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}

	// Guard the immutable identifiers against the mutation.
	if _, err := Merge(existing, next); err != nil {
		return nil, err
	}

	if err := s.Put(ctx, address, next); err != nil {
		return nil, fmt.Errorf("unable to write record for %v: %w",
			address, err)
	}

	return next, nil
}
