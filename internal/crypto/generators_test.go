package crypto

import "testing"

func TestGeneratorHIndependentOfG(t *testing.T) {
	g := jacobianToCompressed(generatorG())
	h := jacobianToCompressed(generatorH())
	if string(g) == string(h) {
		t.Fatal("generatorH must not equal generatorG")
	}
}

func TestHashToCurveDeterministic(t *testing.T) {
	a := hashToCurve("domain-a")
	b := hashToCurve("domain-a")
	if string(jacobianToCompressed(a)) != string(jacobianToCompressed(b)) {
		t.Fatal("hashToCurve must be deterministic for the same domain string")
	}
}

func TestHashToCurveIndexedDistinctPerIndex(t *testing.T) {
	a := hashToCurveIndexed("bp-G", 0)
	b := hashToCurveIndexed("bp-G", 1)
	if string(jacobianToCompressed(a)) == string(jacobianToCompressed(b)) {
		t.Fatal("generators at different indices must differ")
	}
}

func TestBitGeneratorsAllDistinct(t *testing.T) {
	g, h := bitGenerators()
	seen := make(map[string]bool)
	for i := 0; i < RangeBits; i++ {
		gc := string(jacobianToCompressed(g[i]))
		hc := string(jacobianToCompressed(h[i]))
		if seen[gc] || seen[hc] {
			t.Fatalf("duplicate generator at index %d", i)
		}
		seen[gc] = true
		seen[hc] = true
	}
}
