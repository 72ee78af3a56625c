package metadata

// ConflictReason tags why a Sync pair's two sides disagree.
type ConflictReason int

const (
	ConflictNone ConflictReason = iota
	LocalNewer
	LocalOlder
	LocalBigger
	LocalSmaller
	LocalFileRemoteDir
	LocalDirRemoteFile
)

func (r ConflictReason) String() string {
	switch r {
	case LocalNewer:
		return "local-newer"
	case LocalOlder:
		return "local-older"
	case LocalBigger:
		return "local-bigger"
	case LocalSmaller:
		return "local-smaller"
	case LocalFileRemoteDir:
		return "local-file-remote-dir"
	case LocalDirRemoteFile:
		return "local-dir-remote-file"
	default:
		return "none"
	}
}

// DetectConflict computes the conflict reason for a Sync pair, or
// ConflictNone if the two sides agree. Kind mismatches are checked first;
// for matching kinds, mtimes are compared (missing mtime on either side is
// treated as equal to the other), and only on an mtime tie are sizes
// compared.
func DetectConflict(local, remote Metadata) ConflictReason {
	if local.IsDir() != remote.IsDir() {
		if local.IsFile() && remote.IsDir() {
			return LocalFileRemoteDir
		}

		if local.IsDir() && !remote.IsDir() {
			return LocalDirRemoteFile
		}
	}

	if local.IsDir() || local.IsSymlink() || local.Kind() == KindSpecial {
		return ConflictNone
	}

	lt, rt := local.ModTime(), remote.ModTime()

	switch {
	case lt.IsZero() || rt.IsZero() || lt.Equal(rt):
		// Mtimes tie (or are unknown on one side): fall through to size.
	case lt.After(rt):
		return LocalNewer
	default:
		return LocalOlder
	}

	switch {
	case local.Size() > remote.Size():
		return LocalBigger
	case local.Size() < remote.Size():
		return LocalSmaller
	default:
		return ConflictNone
	}
}
