package metadata

import (
	"context"
	"errors"
	"fmt"
)

// MirrorStore keeps a device-local copy of every record next to the remote
// store. Remote write failures degrade to local-only operation and remote
// read failures are served from the local copy when one exists.
type MirrorStore struct {
	remote Store
	local  Store
}

// NewMirrorStore creates a MirrorStore.
func NewMirrorStore(remote, local Store) *MirrorStore {
	return &MirrorStore{
		remote: remote,
		local:  local,
	}
}

// Get reads from the remote store, refreshing the local copy on success.
func (m *MirrorStore) Get(ctx context.Context, address string) (*Record, error) {
	rec, err := m.remote.Get(ctx, address)
	switch {
	case err == nil:
		if err := m.local.Put(ctx, address, rec); err != nil {
			log.Warnf("Unable to refresh local record for %v: %v",
				address, err)
		}
		return rec, nil

	case errors.Is(err, ErrNotFound):
		return nil, err
	}

	log.Warnf("Remote metadata read for %v failed, trying local copy: %v",
		address, err)

	local, lerr := m.local.Get(ctx, address)
	if lerr != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}

	return local, nil
}

// Put writes locally then remotely. Only a failure of both is returned.
func (m *MirrorStore) Put(ctx context.Context, address string, rec *Record) error {
	return m.write(ctx, address, rec, func(remote Store) error {
		return remote.Put(ctx, address, rec)
	})
}

// Replace is Put for a record whose wallet replaced previousWalletID.
func (m *MirrorStore) Replace(ctx context.Context, address,
	previousWalletID string, rec *Record) error {

	return m.write(ctx, address, rec, func(remote Store) error {
		return Replace(ctx, remote, address, previousWalletID, rec)
	})
}

func (m *MirrorStore) write(ctx context.Context, address string, rec *Record,
	remoteWrite func(Store) error) error {

	localErr := m.local.Put(ctx, address, rec)
	if localErr != nil {
		log.Errorf("Unable to write local record for %v: %v", address,
			localErr)
	}

	remoteErr := remoteWrite(m.remote)
	if remoteErr == nil {
		return nil
	}

	if localErr != nil {
		return fmt.Errorf("%w: remote: %v, local: %v",
			ErrRemoteUnavailable, remoteErr, localErr)
	}

	log.Warnf("Remote metadata write for %v failed, keeping device-local "+
		"copy only: %v", address, remoteErr)

	return nil
}
