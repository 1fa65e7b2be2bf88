package vm

import (
	"os"
	"path/filepath"
	"testing"
)

func writeClassFile(t *testing.T, dir, name string, data []byte) {
	t.Helper()

	path := filepath.Join(dir, filepath.FromSlash(name)+".class")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestUserClassLoader(t *testing.T) {
	dir := t.TempDir()
	writeClassFile(t, dir, "app/Hello", buildClass(t, "app/Hello", ObjectClassName))

	t.Run("load from classpath", func(t *testing.T) {
		cl := NewUserClassLoader(dir, nil)
		cf, err := cl.LoadClass("app/Hello")
		if err != nil {
			t.Fatalf("failed to load app/Hello: %v", err)
		}
		name, err := cf.ClassName()
		if err != nil {
			t.Fatalf("failed to get class name: %v", err)
		}
		if name != "app/Hello" {
			t.Errorf("class name: got %q, want %q", name, "app/Hello")
		}
	})

	t.Run("cache", func(t *testing.T) {
		cl := NewUserClassLoader(dir, nil)
		cf1, err := cl.LoadClass("app/Hello")
		if err != nil {
			t.Fatalf("first load failed: %v", err)
		}
		cf2, err := cl.LoadClass("app/Hello")
		if err != nil {
			t.Fatalf("second load failed: %v", err)
		}
		if cf1 != cf2 {
			t.Error("expected same ClassFile instance for cached load, got different pointers")
		}
	})

	t.Run("delegates to parent", func(t *testing.T) {
		parent := NewMemoryClassLoader(nil)
		if _, err := parent.Add(buildClass(t, "lib/Util", ObjectClassName)); err != nil {
			t.Fatalf("Add: %v", err)
		}
		cl := NewUserClassLoader(dir, parent)
		if _, err := cl.LoadClass("lib/Util"); err != nil {
			t.Fatalf("failed to load lib/Util via parent: %v", err)
		}
	})

	t.Run("not found", func(t *testing.T) {
		cl := NewUserClassLoader(dir, nil)
		if _, err := cl.LoadClass("NonExistentClass"); err == nil {
			t.Error("expected error for nonexistent class, got nil")
		}
	})

	t.Run("used by the VM", func(t *testing.T) {
		v := NewVM(NewUserClassLoader(dir, nil))
		class, err := v.LoadClass("app/Hello")
		if err != nil {
			t.Fatalf("LoadClass: %v", err)
		}
		if class.Super == nil || class.Super.Name != ObjectClassName {
			t.Errorf("Super: got %v, want %s", class.Super, ObjectClassName)
		}
	})
}

func TestMemoryClassLoader(t *testing.T) {
	t.Run("add and load", func(t *testing.T) {
		cl := NewMemoryClassLoader(nil)
		name, err := cl.Add(buildClass(t, "mem/A", ObjectClassName))
		if err != nil {
			t.Fatalf("Add: %v", err)
		}
		if name != "mem/A" {
			t.Errorf("Add returned %q, want mem/A", name)
		}
		if _, err := cl.LoadClass("mem/A"); err != nil {
			t.Errorf("LoadClass: %v", err)
		}
	})

	t.Run("duplicate", func(t *testing.T) {
		cl := NewMemoryClassLoader(nil)
		data := buildClass(t, "mem/A", ObjectClassName)
		if _, err := cl.Add(data); err != nil {
			t.Fatalf("Add: %v", err)
		}
		if _, err := cl.Add(data); err == nil {
			t.Error("expected error for duplicate class")
		}
	})

	t.Run("garbage", func(t *testing.T) {
		cl := NewMemoryClassLoader(nil)
		if _, err := cl.Add([]byte("not a class")); err == nil {
			t.Error("expected error for malformed class file")
		}
	})

	t.Run("not found", func(t *testing.T) {
		cl := NewMemoryClassLoader(nil)
		if _, err := cl.LoadClass("mem/Missing"); err == nil {
			t.Error("expected error for missing class")
		}
	})
}
