package core

import (
	"testing"

	"github.com/kcmvp/archunit"
)

func TestCoreDoesNotDependOnOuterLayers(t *testing.T) {
	core := archunit.Packages("core", []string{".../core/..."})
	infra := archunit.Packages("infra", []string{".../infra/..."})
	outer := archunit.Packages("outer", []string{".../app", ".../cmd", ".../config", ".../api/..."})

	if err := core.ShouldNotReferLayers(infra); err != nil {
		t.Errorf("core depends on infra: %v", err)
	}
	if err := core.ShouldNotReferLayers(outer); err != nil {
		t.Errorf("core depends on the application layer: %v", err)
	}
}

func TestInfraDoesNotDependOnApplication(t *testing.T) {
	infra := archunit.Packages("infra", []string{".../infra/..."})
	app := archunit.Packages("app", []string{".../app", ".../cmd"})

	if err := infra.ShouldNotReferLayers(app); err != nil {
		t.Errorf("infra depends on the application layer: %v", err)
	}
}

func TestAllocationPackagePresent(t *testing.T) {
	engine := archunit.Packages("allocation", []string{".../core/allocation"})
	if len(engine.Packages()) == 0 {
		t.Error("allocation package not found")
	}
}
