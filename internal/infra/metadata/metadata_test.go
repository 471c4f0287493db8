package metadata

import "testing"

func TestListClasses_MissingFileReturnsError(t *testing.T) {
	if _, err := ListClasses("/nonexistent/assembly.dll"); err == nil {
		t.Fatal("expected error opening a nonexistent assembly")
	}
}
