package render

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTemplate(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("writing template %s: %v", name, err)
	}
}

func TestBundleRendersVarsAndSplitsDocuments(t *testing.T) {
	base := t.TempDir()
	tplDir := filepath.Join(base, "odoo16")
	if err := os.MkdirAll(tplDir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeTemplate(t, tplDir, "deployment.yaml", `
apiVersion: apps/v1
kind: Deployment
metadata:
  name: {{ .Name }}
spec:
  template:
    spec:
      containers:
        - image: {{ .Image }}
---
apiVersion: v1
kind: Service
metadata:
  name: {{ .Name }}
`)

	resources, err := Bundle(base, "odoo16", Vars{"Name": "acme-main-abc12345", "Image": "acme/odoo:16"})
	if err != nil {
		t.Fatalf("Bundle() error = %v", err)
	}
	if len(resources) != 2 {
		t.Fatalf("expected 2 resources, got %d", len(resources))
	}
	if resources[0].Object.GetKind() != "Deployment" || resources[0].Object.GetName() != "acme-main-abc12345" {
		t.Fatalf("unexpected first resource: %+v", resources[0].Object)
	}
	if resources[1].Object.GetKind() != "Service" {
		t.Fatalf("unexpected second resource: %+v", resources[1].Object)
	}
}

func TestBundleMissingVarIsError(t *testing.T) {
	base := t.TempDir()
	tplDir := filepath.Join(base, "tpl")
	if err := os.MkdirAll(tplDir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeTemplate(t, tplDir, "a.yaml", "kind: {{ .Missing }}\n")

	if _, err := Bundle(base, "tpl", Vars{}); err == nil {
		t.Fatal("expected an error for a missing template var")
	}
}

func TestBundleIsDeterministicAcrossFiles(t *testing.T) {
	base := t.TempDir()
	tplDir := filepath.Join(base, "tpl")
	if err := os.MkdirAll(tplDir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeTemplate(t, tplDir, "b.yaml", "apiVersion: v1\nkind: Service\nmetadata:\n  name: svc\n")
	writeTemplate(t, tplDir, "a.yaml", "apiVersion: apps/v1\nkind: Deployment\nmetadata:\n  name: dep\n")

	resources, err := Bundle(base, "tpl", Vars{})
	if err != nil {
		t.Fatalf("Bundle() error = %v", err)
	}
	if len(resources) != 2 || resources[0].SourceFile != "a.yaml" || resources[1].SourceFile != "b.yaml" {
		t.Fatalf("expected lexical file ordering a.yaml, b.yaml; got %+v, %+v", resources[0], resources[1])
	}
}

func TestMergeVarsRecipeOverridesStandard(t *testing.T) {
	merged := MergeVars(map[string]string{"Image": "default:latest"}, map[string]string{"Image": "custom:1.0"})
	if merged["Image"] != "custom:1.0" {
		t.Fatalf("expected recipe var to win, got %q", merged["Image"])
	}
}
