package part

// Store is the local on-disk part store (spec.md §2 item 2), external to
// the core except for this interface: enumerate parts, merge a set into a
// new one, rename a fetched temp part in, and clear parts rendered
// obsolete. The core never inspects column data through this interface —
// only the attributes of Part.
type Store interface {
	// GetDataParts lists every part currently on local disk.
	GetDataParts() ([]Part, error)

	// GetContainingPart returns a local part whose range contains name's
	// range, if any (spec.md §3 "containment").
	GetContainingPart(name Part) (Part, bool, error)

	// MergeParts merges parts into one new part named newName. The
	// resulting Part's Size and Checksums are computed by the store. The
	// inputs are marked obsolete as part of the merge, the same as
	// RenameTempPartAndReplace does for a fetched part's contained parts,
	// so a following ClearOldParts reclaims them.
	MergeParts(parts []Part, newName string) (Part, error)

	// RenameTempPartAndReplace finalizes a part fetched from a peer,
	// returning the set of local parts it renders obsolete (every local
	// part contained in the new one).
	RenameTempPartAndReplace(p Part) ([]Part, error)

	// ClearOldParts removes the parts that MergeParts and
	// RenameTempPartAndReplace marked obsolete. Until it runs, those parts
	// are still listed by GetDataParts and GetContainingPart.
	ClearOldParts() error

	// RenameAndDetachPart detaches a part to local storage with the given
	// name prefix (used by Bootstrap to quarantine unexpected parts under
	// "ignored_", spec.md §3 invariant 1).
	RenameAndDetachPart(p Part, prefix string) error
}
