package localregistry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/ignitionstack/ember/internal/repository"
	"github.com/ignitionstack/ember/pkg/artifact"
	"github.com/ignitionstack/ember/pkg/manifest"
	"github.com/ignitionstack/ember/pkg/registry"
)

const functionKeyPrefix = "func:"

type localRegistry struct {
	dbRepo  repository.DBRepository
	storage registry.Storage
}

func NewLocalRegistry(rootDir string, dbRepo repository.DBRepository) registry.Registry {
	return &localRegistry{
		dbRepo:  dbRepo,
		storage: NewLocalStorage(rootDir),
	}
}

func (r *localRegistry) Get(id string) (*registry.FunctionMetadata, error) {
	var metadata *registry.FunctionMetadata

	err := r.withReadTx(func(txn *badger.Txn) error {
		return r.getFunctionMetadata(txn, id, &metadata)
	})

	return metadata, err
}

// Resolve maps ref to the stored artifact. The fingerprint is the content
// digest, so pushing new content under the same tag invalidates cached loads.
func (r *localRegistry) Resolve(_ context.Context, ref artifact.Reference) (artifact.Location, error) {
	metadata, err := r.Get(ref.ID)
	if err != nil {
		return artifact.Location{}, err
	}

	version, ok := metadata.FindVersion(ref.Version)
	if !ok {
		return artifact.Location{}, fmt.Errorf("%w: %s", registry.ErrVersionNotFound, ref)
	}

	path := r.storage.BuildWASMPath(ref.ID, version.Hash)
	return version.Settings.Location(path, version.FullDigest), nil
}

// Pull returns the artifact bytes for a digest or tag
func (r *localRegistry) Pull(id, reference string) ([]byte, *registry.VersionInfo, error) {
	// Try to pull by digest first
	wasmBytes, versionInfo, digestErr := r.pullByDigest(id, reference)
	if digestErr == nil {
		return wasmBytes, versionInfo, nil
	}

	// If that fails, try by tag
	wasmBytes, versionInfo, tagErr := r.pullByTag(id, reference)
	if tagErr == nil {
		return wasmBytes, versionInfo, nil
	}

	if errors.Is(tagErr, registry.ErrTagNotFound) && errors.Is(digestErr, registry.ErrDigestNotFound) {
		return nil, nil, fmt.Errorf("%w: %s", registry.ErrInvalidReference, reference)
	}

	return nil, nil, tagErr
}

// Push stores payload under its digest and moves tags to it. Pushing content
// that is already stored only moves the tags.
func (r *localRegistry) Push(id string, payload []byte, fullDigest string, tags []string, settings manifest.FunctionSettings) (*registry.VersionInfo, error) {
	shortDigest := registry.ShortDigest(fullDigest)
	path := r.storage.BuildWASMPath(id, shortDigest)

	var pushed registry.VersionInfo
	err := r.withWriteTx(func(txn *badger.Txn) error {
		metadata, err := r.getOrCreateMetadata(txn, id)
		if err != nil {
			return fmt.Errorf("failed to get metadata: %w", err)
		}

		// A tag names exactly one version
		for _, tag := range tags {
			if tag != "" {
				registry.RemoveTagFromVersions(&metadata.Versions, tag)
			}
		}

		if !r.versionExists(metadata, shortDigest) {
			if err := r.storage.WriteWASMFile(path, payload); err != nil {
				return fmt.Errorf("failed to write WASM file: %w", err)
			}
			metadata.Versions = append(metadata.Versions, registry.CreateVersionInfo(shortDigest, fullDigest, payload, tags, settings))
		} else {
			for _, tag := range tags {
				if tag != "" {
					registry.AddTagToVersion(&metadata.Versions, shortDigest, tag)
				}
			}
			for i := range metadata.Versions {
				if metadata.Versions[i].Hash == shortDigest {
					metadata.Versions[i].Settings = settings.VersionSettings
					metadata.Versions[i].Routes = settings.Routes
				}
			}
		}

		for _, v := range metadata.Versions {
			if v.Hash == shortDigest {
				pushed = v
			}
		}
		return r.updateMetadata(txn, id, metadata)
	})
	if err != nil {
		return nil, err
	}
	return &pushed, nil
}

func (r *localRegistry) ReassignTag(id, tag, newDigest string) error {
	return r.withWriteTx(func(txn *badger.Txn) error {
		var metadata *registry.FunctionMetadata
		if err := r.getFunctionMetadata(txn, id, &metadata); err != nil {
			return err
		}

		shortDigest := registry.ShortDigest(newDigest)
		if !r.versionExists(metadata, shortDigest) {
			return registry.ErrDigestNotFound
		}

		registry.RemoveTagFromVersions(&metadata.Versions, tag)
		registry.AddTagToVersion(&metadata.Versions, shortDigest, tag)

		return r.updateMetadata(txn, id, metadata)
	})
}

func (r *localRegistry) DigestExists(id, digest string) (bool, error) {
	var exists bool

	err := r.withReadTx(func(txn *badger.Txn) error {
		var metadata *registry.FunctionMetadata
		if err := r.getFunctionMetadata(txn, id, &metadata); err != nil {
			if errors.Is(err, registry.ErrFunctionNotFound) {
				exists = false
				return nil
			}
			return err
		}

		exists = r.versionExists(metadata, registry.ShortDigest(digest))
		return nil
	})

	return exists, err
}

func (r *localRegistry) ListAll() ([]registry.FunctionMetadata, error) {
	var functions []registry.FunctionMetadata

	err := r.withReadTx(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(functionKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var metadata registry.FunctionMetadata
				if err := json.Unmarshal(val, &metadata); err != nil {
					return fmt.Errorf("failed to unmarshal metadata: %w", err)
				}
				functions = append(functions, metadata)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to list functions: %w", err)
	}

	return functions, nil
}

func (r *localRegistry) withReadTx(fn func(txn *badger.Txn) error) error {
	return r.dbRepo.View(fn)
}

func (r *localRegistry) withWriteTx(fn func(txn *badger.Txn) error) error {
	return r.dbRepo.Update(fn)
}

// getFunctionMetadata retrieves a function's metadata from the database
func (r *localRegistry) getFunctionMetadata(txn *badger.Txn, id string, metadata **registry.FunctionMetadata) error {
	item, err := txn.Get(buildFunctionKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%w: %s", registry.ErrFunctionNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("database error: %w", err)
	}

	return item.Value(func(val []byte) error {
		*metadata = &registry.FunctionMetadata{}
		if err := json.Unmarshal(val, *metadata); err != nil {
			return fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
		return nil
	})
}

// getOrCreateMetadata gets a function's metadata or creates it if it doesn't exist
func (r *localRegistry) getOrCreateMetadata(txn *badger.Txn, id string) (*registry.FunctionMetadata, error) {
	var metadata *registry.FunctionMetadata
	err := r.getFunctionMetadata(txn, id, &metadata)
	if errors.Is(err, registry.ErrFunctionNotFound) {
		return &registry.FunctionMetadata{
			ID:        id,
			CreatedAt: time.Now(),
			Versions:  make([]registry.VersionInfo, 0),
		}, nil
	}
	return metadata, err
}

// updateMetadata writes updated metadata to the database
func (r *localRegistry) updateMetadata(txn *badger.Txn, id string, metadata *registry.FunctionMetadata) error {
	metadata.UpdatedAt = time.Now()

	val, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	if err := txn.Set(buildFunctionKey(id), val); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}

	return nil
}

func (r *localRegistry) versionExists(metadata *registry.FunctionMetadata, shortDigest string) bool {
	for _, v := range metadata.Versions {
		if v.Hash == shortDigest {
			return true
		}
	}
	return false
}

func (r *localRegistry) pullByDigest(id, digest string) ([]byte, *registry.VersionInfo, error) {
	shortDigest := registry.ShortDigest(digest)
	var versionInfo *registry.VersionInfo

	err := r.withReadTx(func(txn *badger.Txn) error {
		var metadata *registry.FunctionMetadata
		if err := r.getFunctionMetadata(txn, id, &metadata); err != nil {
			return err
		}

		for _, v := range metadata.Versions {
			if v.Hash == shortDigest {
				versionInfoCopy := v
				versionInfo = &versionInfoCopy
				return nil
			}
		}
		return registry.ErrDigestNotFound
	})
	if err != nil {
		return nil, nil, err
	}

	wasmBytes, err := r.storage.ReadWASMFile(r.storage.BuildWASMPath(id, shortDigest))
	if err != nil {
		return nil, nil, err
	}
	return wasmBytes, versionInfo, nil
}

func (r *localRegistry) pullByTag(id, tag string) ([]byte, *registry.VersionInfo, error) {
	var versionInfo *registry.VersionInfo

	err := r.withReadTx(func(txn *badger.Txn) error {
		var metadata *registry.FunctionMetadata
		if err := r.getFunctionMetadata(txn, id, &metadata); err != nil {
			return err
		}

		for _, v := range metadata.Versions {
			if registry.HasTag(v.Tags, tag) {
				versionInfoCopy := v
				versionInfo = &versionInfoCopy
				return nil
			}
		}
		return registry.ErrTagNotFound
	})
	if err != nil {
		return nil, nil, err
	}

	wasmBytes, err := r.storage.ReadWASMFile(r.storage.BuildWASMPath(id, versionInfo.Hash))
	if err != nil {
		return nil, nil, err
	}
	return wasmBytes, versionInfo, nil
}

// buildFunctionKey creates a database key for a function
func buildFunctionKey(id string) []byte {
	return []byte(functionKeyPrefix + id)
}
