package migrations

import (
	"embed"
	"io/fs"
)

//go:embed management/*.sql
var managementFS embed.FS

//go:embed commons/*.sql
var commonsFS embed.FS

// Management returns the migration scripts applied once to the management database.
func Management() fs.FS {
	return mustSub(managementFS, "management")
}

// Commons returns the migration scripts applied to every tenant database.
func Commons() fs.FS {
	return mustSub(commonsFS, "commons")
}

func mustSub(fsys embed.FS, dir string) fs.FS {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		// Unreachable for embedded directories; a failure here means the
		// embed directives and directory names are out of sync.
		panic(err)
	}
	return sub
}
