package services

import (
	"errors"
	"testing"
)

func TestChooseNode_LinuxImage(t *testing.T) {
	nodes := []string{"linux-1", "linux-2", "windows-1"}
	for i := 0; i < 20; i++ {
		node, err := ChooseNode("ctf/web:latest", nodes)
		if err != nil {
			t.Fatalf("ChooseNode failed: %v", err)
		}
		if node != "linux-1" && node != "linux-2" {
			t.Fatalf("linux image must land on a linux node, got %q", node)
		}
	}
}

func TestChooseNode_WindowsImage(t *testing.T) {
	nodes := []string{"linux-1", "windows-1"}
	node, err := ChooseNode("ctf/re:windows-2022", nodes)
	if err != nil {
		t.Fatalf("ChooseNode failed: %v", err)
	}
	if node != "windows-1" {
		t.Errorf("windows image must land on a windows node, got %q", node)
	}
}

func TestChooseNode_MissingTag(t *testing.T) {
	_, err := ChooseNode("ctf/web", []string{"linux-1"})
	if !errors.Is(err, ErrNoSuitableNode) {
		t.Errorf("untagged image must return ErrNoSuitableNode, got %v", err)
	}
}

func TestChooseNode_NoCandidates(t *testing.T) {
	if _, err := ChooseNode("ctf/re:windows-2022", []string{"linux-1"}); !errors.Is(err, ErrNoSuitableNode) {
		t.Errorf("empty windows set must return ErrNoSuitableNode, got %v", err)
	}
	if _, err := ChooseNode("ctf/web:latest", []string{"windows-1"}); !errors.Is(err, ErrNoSuitableNode) {
		t.Errorf("empty linux set must return ErrNoSuitableNode, got %v", err)
	}
	if _, err := ChooseNode("ctf/web:latest", nil); !errors.Is(err, ErrNoSuitableNode) {
		t.Errorf("no nodes at all must return ErrNoSuitableNode, got %v", err)
	}
}

func TestChooseNode_IgnoresBlankEntries(t *testing.T) {
	node, err := ChooseNode("ctf/web:latest", []string{"", "  linux-1  ", ""})
	if err != nil {
		t.Fatalf("ChooseNode failed: %v", err)
	}
	if node != "linux-1" {
		t.Errorf("expected trimmed node name, got %q", node)
	}
}
