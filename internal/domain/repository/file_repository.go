package repository

import "context"

// FileRepository is the interface boundary to the raw file/image store
// (out of scope per spec.md §1: "may be reimplemented but is not part of
// the described core"). The orchestration core never reads or writes
// artifact bytes itself — a completed train task's worker writes a
// cnnstate row's metadata through ModelStateRepository, while the bytes
// themselves go straight from the worker to whatever implements this
// interface. Declared here only so the core's own interfaces compile
// against a complete picture of its collaborators, per spec.md §2's
// external-collaborator list.
type FileRepository interface {
	// Exists reports whether a named artifact blob is present for a
	// project, used by duplicate_model_state to decide whether a
	// checkpoint's bytes need copying alongside its metadata row.
	Exists(ctx context.Context, shortName, key string) (bool, error)

	// Copy duplicates an artifact blob under a new key within the same
	// project namespace, the storage-side half of duplicate_model_state.
	Copy(ctx context.Context, shortName, srcKey, dstKey string) error

	// Delete removes an artifact blob, the storage-side half of
	// delete_model_states.
	Delete(ctx context.Context, shortName, key string) error
}
