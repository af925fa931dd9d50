// Copyright 2025 Settlenet

package merkle

import (
	"crypto/sha256"
	"testing"
)

func TestBuildFromOwners_Empty(t *testing.T) {
	tree, err := BuildFromOwners(map[string]string{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var zero [32]byte
	if tree.Root() != zero {
		t.Fatalf("expected zero root for empty tree, got %x", tree.Root())
	}
}

func TestBuildFromOwners_SingleLeaf_S1(t *testing.T) {
	tree, err := BuildFromOwners(map[string]string{"it1": "B"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	itemHash := sha256.Sum256([]byte("it1"))
	ownerHash := sha256.Sum256([]byte("B"))
	combined := append(append([]byte{}, itemHash[:]...), ownerHash[:]...)
	want := sha256.Sum256(combined)
	if tree.Root() != want {
		t.Fatalf("root mismatch for single leaf: got %x want %x", tree.Root(), want)
	}
}

func TestInclusionProof_RoundTrip(t *testing.T) {
	owners := map[string]string{
		"it1": "B", "it2": "D", "it3": "F", "it4": "H", "it5": "J",
	}
	tree, err := BuildFromOwners(owners)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for item := range owners {
		proof, err := tree.ProofForItem(item)
		if err != nil {
			t.Fatalf("proof for %s: %v", item, err)
		}
		if !VerifyProof(proof, tree.Root()) {
			t.Fatalf("proof for %s failed to verify", item)
		}
	}
}

func TestInclusionProof_RootIndependentOfInsertionOrder(t *testing.T) {
	a, _ := BuildFromOwners(map[string]string{"z": "owner-z", "a": "owner-a", "m": "owner-m"})
	b, _ := BuildFromOwners(map[string]string{"a": "owner-a", "m": "owner-m", "z": "owner-z"})
	if a.Root() != b.Root() {
		t.Fatalf("root should not depend on map iteration order: %x vs %x", a.Root(), b.Root())
	}
}

func TestProofForItem_NotFound(t *testing.T) {
	tree, _ := BuildFromOwners(map[string]string{"it1": "B"})
	if _, err := tree.ProofForItem("missing"); err != ErrLeafNotFound {
		t.Fatalf("expected ErrLeafNotFound, got %v", err)
	}
}
