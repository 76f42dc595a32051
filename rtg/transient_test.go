package rtg

import "testing"

func TestCompileTransientPlanAliasesNonOverlappingLifetimes(t *testing.T) {
	g := newTestGraph()

	shape := func(g *Graph) ResourceID {
		return g.CreateTransientImageResource(Extent3D{Width: 256, Height: 256, Depth: 1}, 1, 1, 1, 1, 1, 1, 0)
	}
	a := shape(g)
	b := shape(g)
	c := shape(g)

	g.AddPass(PassNode{Usages: []ResourceUsage{{Resource: a, Access: Read}}})
	g.AddPass(PassNode{Usages: []ResourceUsage{{Resource: a, Access: Read}, {Resource: b, Access: Write}}})
	g.AddPass(PassNode{Usages: []ResourceUsage{{Resource: b, Access: Read}, {Resource: c, Access: Write}}})
	g.AddPass(PassNode{Usages: []ResourceUsage{{Resource: c, Access: Read}}})

	plan := g.CompileTransientPlan()
	if len(plan.AliasAllocations) != 2 {
		t.Fatalf("expected a and c to share one slot and b to get its own (2 total), got %d", len(plan.AliasAllocations))
	}
	if plan.AliasSlotByResource[a] != plan.AliasSlotByResource[c] {
		t.Fatalf("expected a and c to share an alias slot")
	}
	if plan.AliasSlotByResource[b] == plan.AliasSlotByResource[a] {
		t.Fatalf("expected b to get a distinct alias slot from a/c since their lifetimes overlap")
	}
}

func TestCompileTransientPlanDoesNotAliasOverlappingLifetimes(t *testing.T) {
	g := newTestGraph()
	a := g.CreateTransientBufferResource(1024, 16, 0)
	b := g.CreateTransientBufferResource(1024, 16, 0)

	g.AddPass(PassNode{Usages: []ResourceUsage{{Resource: a, Access: Write}, {Resource: b, Access: Write}}})
	g.AddPass(PassNode{Usages: []ResourceUsage{{Resource: a, Access: Read}, {Resource: b, Access: Read}}})

	plan := g.CompileTransientPlan()
	if plan.AliasSlotByResource[a] == plan.AliasSlotByResource[b] {
		t.Fatalf("expected overlapping lifetimes to occupy distinct alias slots")
	}
}

func TestCompileTransientPlanRespectsIncompatibleImageShapes(t *testing.T) {
	g := newTestGraph()
	a := g.CreateTransientImageResource(Extent3D{Width: 256, Height: 256, Depth: 1}, 1, 1, 1, 1, 1, 1, 0)
	b := g.CreateTransientImageResource(Extent3D{Width: 256, Height: 256, Depth: 1}, 2 /* different format */, 1, 1, 1, 1, 1, 0)

	g.AddPass(PassNode{Usages: []ResourceUsage{{Resource: a, Access: Write}}})
	g.AddPass(PassNode{Usages: []ResourceUsage{{Resource: b, Access: Write}}})

	plan := g.CompileTransientPlan()
	if plan.AliasSlotByResource[a] == plan.AliasSlotByResource[b] {
		t.Fatalf("expected mismatched image format to prevent aliasing even with non-overlapping lifetimes")
	}
}

func TestCompileTransientPlanBuffersAlwaysCompatible(t *testing.T) {
	a := ResourceDescriptor{Type: Buffer, TransientBufferSize: 16}
	b := ResourceDescriptor{Type: Buffer, TransientBufferSize: 4096}
	if !transientResourcesCompatible(a, b) {
		t.Fatalf("expected buffers of any size to be compatible per the alias-shape rule")
	}
}

func TestCompileTransientPlanAliasClassZeroIsWildcard(t *testing.T) {
	if !aliasClassesCompatible(0, 42) {
		t.Fatalf("expected alias class 0 to be a wildcard")
	}
	if aliasClassesCompatible(7, 9) {
		t.Fatalf("expected two distinct non-zero alias classes to be incompatible")
	}
}

func TestCompileTransientPlanGrowsSlotShapeToMax(t *testing.T) {
	g := newTestGraph()
	a := g.CreateTransientBufferResource(64, 16, 0)
	b := g.CreateTransientBufferResource(4096, 16, 0)

	g.AddPass(PassNode{Usages: []ResourceUsage{{Resource: a, Access: Write}}})
	g.AddPass(PassNode{Usages: []ResourceUsage{{Resource: b, Access: Write}}})

	plan := g.CompileTransientPlan()
	if plan.AliasSlotByResource[a] != plan.AliasSlotByResource[b] {
		t.Fatalf("expected buffers with non-overlapping lifetimes to share a slot")
	}
	slot := plan.AliasAllocations[plan.AliasSlotByResource[a]]
	if slot.RequiredBufferSize != 4096 {
		t.Fatalf("expected slot to grow to the larger of the two buffer sizes, got %d", slot.RequiredBufferSize)
	}
}
