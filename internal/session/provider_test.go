package session

import (
	"errors"
	"sync"
	"testing"
)

func TestProjectRootOf(t *testing.T) {
	p := NewStaticProvider(map[string]string{"s1": "/work/alpha"})

	root, err := p.ProjectRootOf("s1")
	if err != nil {
		t.Fatalf("ProjectRootOf failed: %v", err)
	}
	if root != "/work/alpha" {
		t.Errorf("root = %q, want /work/alpha", root)
	}

	if _, err := p.ProjectRootOf("ghost"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("unknown session error = %v, want ErrSessionNotFound", err)
	}
}

func TestRegisterAndRemove(t *testing.T) {
	p := NewStaticProvider(nil)

	p.Register("s2", "/work/beta")
	if root, err := p.ProjectRootOf("s2"); err != nil || root != "/work/beta" {
		t.Fatalf("after Register: root=%q err=%v", root, err)
	}

	p.Remove("s2")
	if _, err := p.ProjectRootOf("s2"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("after Remove error = %v, want ErrSessionNotFound", err)
	}
}

func TestConcurrentAccess(t *testing.T) {
	p := NewStaticProvider(nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Register("shared", "/work/shared")
			p.ProjectRootOf("shared")
		}()
	}
	wg.Wait()

	if root, err := p.ProjectRootOf("shared"); err != nil || root != "/work/shared" {
		t.Errorf("root=%q err=%v", root, err)
	}
}
