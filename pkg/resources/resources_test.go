package resources

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGetBootstrapEndpoints(t *testing.T) {
	endpoints, err := GetBootstrapEndpoints()
	if err != nil {
		t.Fatalf("GetBootstrapEndpoints() failed: %v", err)
	}

	if len(endpoints) == 0 {
		t.Fatal("GetBootstrapEndpoints() returned empty list")
	}

	for _, ep := range endpoints {
		if ep.IPv4 == 0 {
			t.Errorf("endpoint has zero IPv4: %+v", ep)
		}
		if ep.Port == 0 {
			t.Errorf("endpoint has zero port: %+v", ep)
		}
	}

	t.Logf("Found %d bootstrap endpoints", len(endpoints))
}

func TestGetBootstrapEndpoints_FirstEntry(t *testing.T) {
	endpoints, err := GetBootstrapEndpoints()
	if err != nil {
		t.Fatalf("GetBootstrapEndpoints() failed: %v", err)
	}

	first := endpoints[0]
	wantIPv4 := uint32(130)<<24 | uint32(161)<<16 | uint32(119)<<8 | uint32(201)
	if first.IPv4 != wantIPv4 {
		t.Errorf("first endpoint IPv4 = %#x, want %#x", first.IPv4, wantIPv4)
	}
	if first.Port != 6421 {
		t.Errorf("first endpoint port = %d, want 6421", first.Port)
	}
}

func TestParseEndpoint_PortRange(t *testing.T) {
	tests := []struct {
		name    string
		addr    string
		wantErr bool
	}{
		{"min of range", "127.0.0.1:6421", false},
		{"max of range", "127.0.0.1:6528", false},
		{"below range", "127.0.0.1:6420", true},
		{"above range", "127.0.0.1:6529", true},
		{"well below range", "127.0.0.1:80", true},
		{"well above range", "127.0.0.1:65000", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseEndpoint(tt.addr)
			if tt.wantErr && err == nil {
				t.Errorf("parseEndpoint(%q) = nil error, want one", tt.addr)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("parseEndpoint(%q) = %v, want nil error", tt.addr, err)
			}
		})
	}
}

func TestListEmbeddedResources(t *testing.T) {
	resources, err := ListEmbeddedResources()
	if err != nil {
		t.Fatalf("ListEmbeddedResources() failed: %v", err)
	}

	if len(resources) == 0 {
		t.Fatal("ListEmbeddedResources() returned empty list")
	}

	found := false
	for _, resource := range resources {
		if strings.Contains(resource, "bootstrap-endpoints.txt") {
			found = true
			break
		}
	}
	if !found {
		t.Error("expected bootstrap-endpoints.txt in embedded resource list")
	}
}

func TestExtractResource(t *testing.T) {
	tmpDir := t.TempDir()
	destPath := filepath.Join(tmpDir, "test-file")

	if err := ExtractResource("bootstrap-endpoints.txt", destPath); err != nil {
		t.Fatalf("ExtractResource() failed: %v", err)
	}

	if _, err := os.Stat(destPath); os.IsNotExist(err) {
		t.Fatal("extracted file does not exist")
	}

	if info, err := os.Stat(destPath); err == nil {
		mode := info.Mode().Perm()
		if mode != 0600 {
			t.Errorf("file permissions incorrect: got %o, want 0600", mode)
		}
	}
}

func TestValidateExtraction(t *testing.T) {
	tmpDir := t.TempDir()
	destPath := filepath.Join(tmpDir, "bootstrap-endpoints.txt")

	if err := ExtractResource("bootstrap-endpoints.txt", destPath); err != nil {
		t.Fatalf("ExtractResource() failed: %v", err)
	}

	valid, err := ValidateExtraction("bootstrap-endpoints.txt", destPath)
	if err != nil {
		t.Fatalf("ValidateExtraction() failed: %v", err)
	}
	if !valid {
		t.Error("ValidateExtraction() returned false for a valid extraction")
	}

	if err := os.WriteFile(destPath, []byte("corrupted"), 0600); err != nil {
		t.Fatalf("failed to corrupt file: %v", err)
	}

	valid, err = ValidateExtraction("bootstrap-endpoints.txt", destPath)
	if err != nil {
		t.Fatalf("ValidateExtraction() failed on corrupted file: %v", err)
	}
	if valid {
		t.Error("ValidateExtraction() should return false for a corrupted file")
	}
}

func TestCopyEmbeddedFile(t *testing.T) {
	tmpDir := t.TempDir()
	destPath := filepath.Join(tmpDir, "copied-file")

	if err := CopyEmbeddedFile("bootstrap-endpoints.txt", destPath); err != nil {
		t.Fatalf("CopyEmbeddedFile() failed: %v", err)
	}

	content, err := os.ReadFile(destPath)
	if err != nil {
		t.Fatalf("failed to read copied file: %v", err)
	}
	if len(content) == 0 {
		t.Error("copied file is empty")
	}
}
