package blob

import (
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// TestOnlyFacadesImportInfra ensures storage backends are reached through the
// blob and ledger facades. Other packages depend on the Store interfaces.
func TestOnlyFacadesImportInfra(t *testing.T) {
	rules := []struct{ infra, facade string }{
		{"tenxpipeline/internal/infra/blob", "tenxpipeline/internal/blob"},
		{"tenxpipeline/internal/infra/ledger", "tenxpipeline/internal/ledger"},
	}

	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports, Tests: true}
	pkgs, err := packages.Load(cfg, "tenxpipeline/...")
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}

	seen := make(map[string]struct{})
	for _, pkg := range pkgs {
		for _, r := range rules {
			if strings.HasPrefix(pkg.PkgPath, r.facade) || strings.HasPrefix(pkg.PkgPath, r.infra) {
				continue
			}
			for importPath := range pkg.Imports {
				if isInfraImport(importPath, r.infra) {
					seen[filepath.Join(pkg.PkgPath, "...")+": "+importPath] = struct{}{}
				}
			}
		}
	}

	if len(seen) > 0 {
		violations := make([]string, 0, len(seen))
		for v := range seen {
			violations = append(violations, v)
		}
		sort.Strings(violations)
		for _, v := range violations {
			t.Errorf("forbidden import of infra package: %s", v)
		}
		t.Fatalf("found %d forbidden infra imports", len(violations))
	}
}

func isInfraImport(importPath, prefix string) bool {
	return importPath == prefix || strings.HasPrefix(importPath, prefix+"/")
}
