package distribute

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"

	"github.com/roach88/reportflow/internal/identity"
)

// scanResult is the outcome of enumerating an artifacts directory.
type scanResult struct {
	// Artifacts holds the newest artifact per identity key, ordered by
	// filename.
	Artifacts []identity.Artifact
	// Warnings describes skipped files.
	Warnings []string
}

// scanArtifacts lists the PDF artifacts at the root of fs. Files whose names
// do not parse are skipped with a warning. When one recipient has several
// artifacts, the newest date wins.
func scanArtifacts(fs billy.Filesystem) (scanResult, error) {
	var res scanResult
	infos, err := fs.ReadDir(".")
	if err != nil {
		if os.IsNotExist(err) {
			return res, nil
		}
		return res, fmt.Errorf("list artifacts in %s: %w", fs.Root(), err)
	}

	newest := make(map[identity.Key]identity.Artifact)
	for _, info := range infos {
		name := info.Name()
		if info.IsDir() || !strings.EqualFold(fileExt(name), ".pdf") || strings.HasPrefix(name, "temp_") {
			continue
		}
		a, err := identity.ParseArtifactFilename(name)
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("skipping %s: %v", name, err))
			continue
		}
		if cur, ok := newest[a.Key]; ok && a.Date <= cur.Date {
			continue
		}
		newest[a.Key] = a
	}

	for _, a := range newest {
		res.Artifacts = append(res.Artifacts, a)
	}
	sort.Slice(res.Artifacts, func(i, j int) bool {
		return res.Artifacts[i].Filename < res.Artifacts[j].Filename
	})
	return res, nil
}

func fileExt(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i:]
	}
	return ""
}
