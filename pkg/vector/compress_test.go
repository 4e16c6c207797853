// SPDX-License-Identifier: AGPL-3.0
// Copyright 2026 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package vector

import (
	"math"
	"math/rand"
	"testing"
)

func randomVector(r *rand.Rand, dim int) []float32 {
	vec := make([]float32, dim)
	for i := range vec {
		vec[i] = float32(r.NormFloat64())
	}
	return vec
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestScalarQuantizerRoundTrip(t *testing.T) {
	tests := []struct {
		bits      int
		minCosine float64
	}{
		{8, 0.95},
		{16, 0.999},
	}
	r := rand.New(rand.NewSource(1))
	for _, tt := range tests {
		q, err := NewScalarQuantizer(tt.bits, 0, 0)
		if err != nil {
			t.Fatalf("NewScalarQuantizer(%d) error = %v", tt.bits, err)
		}
		vec := randomVector(r, 256)
		compressed, err := q.Compress(vec)
		if err != nil {
			t.Fatalf("Compress() error = %v", err)
		}
		restored, err := q.Decompress(compressed)
		if err != nil {
			t.Fatalf("Decompress() error = %v", err)
		}
		if len(restored) != len(vec) {
			t.Fatalf("restored dim = %d, want %d", len(restored), len(vec))
		}
		if sim := cosine(vec, restored); sim < tt.minCosine {
			t.Errorf("%d-bit round trip cosine = %v, want >= %v", tt.bits, sim, tt.minCosine)
		}
	}
}

func TestScalarQuantizerBadRange(t *testing.T) {
	if _, err := NewScalarQuantizer(8, 2, 1); err == nil {
		t.Error("min >= max must be rejected")
	}
	if _, err := NewScalarQuantizer(8, 1, 1); err == nil {
		t.Error("min == max must be rejected")
	}
	if _, err := NewScalarQuantizer(12, 0, 0); err == nil {
		t.Error("unsupported bit width must be rejected")
	}
}

func TestScalarQuantizerSavings(t *testing.T) {
	q8, _ := NewScalarQuantizer(8, 0, 0)
	q16, _ := NewScalarQuantizer(16, 0, 0)
	if q8.SavingsRatio() != 0.75 {
		t.Errorf("8-bit savings = %v, want 0.75", q8.SavingsRatio())
	}
	if q16.SavingsRatio() != 0.5 {
		t.Errorf("16-bit savings = %v, want 0.5", q16.SavingsRatio())
	}
	vec := []float32{0.5, -0.25, 0.75}
	c8, _ := q8.Compress(vec)
	if len(c8) != len(vec) {
		t.Errorf("8-bit payload = %d bytes, want %d", len(c8), len(vec))
	}
	c16, _ := q16.Compress(vec)
	if len(c16) != 2*len(vec) {
		t.Errorf("16-bit payload = %d bytes, want %d", len(c16), 2*len(vec))
	}
}

func TestRandomProjectionDeterministic(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	vec := randomVector(r, 128)

	p1, err := NewRandomProjection(128, 32, 0, 42)
	if err != nil {
		t.Fatal(err)
	}
	p2, _ := NewRandomProjection(128, 32, 0, 42)

	out1, err := p1.Compress(vec)
	if err != nil {
		t.Fatalf("Compress() error = %v", err)
	}
	out2, _ := p2.Compress(vec)
	if len(out1) != 32 {
		t.Fatalf("output dim = %d, want 32", len(out1))
	}
	for i := range out1 {
		if out1[i] != out2[i] {
			t.Fatalf("same seed produced different projections at %d", i)
		}
	}

	p3, _ := NewRandomProjection(128, 32, 0, 43)
	out3, _ := p3.Compress(vec)
	same := true
	for i := range out1 {
		if out1[i] != out3[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("different seeds produced identical projections")
	}
}

func TestRandomProjectionPreservesSimilarity(t *testing.T) {
	// Johnson-Lindenstrauss: similar vectors stay similar after
	// projection. Compare a vector against a slightly perturbed copy.
	r := rand.New(rand.NewSource(3))
	base := randomVector(r, 512)
	near := make([]float32, len(base))
	for i := range base {
		near[i] = base[i] + float32(r.NormFloat64())*0.05
	}

	p, err := NewRandomProjection(512, 64, 1.0/3.0, 7)
	if err != nil {
		t.Fatal(err)
	}
	pBase, _ := p.Compress(base)
	pNear, _ := p.Compress(near)

	before := cosine(base, near)
	after := cosine(pBase, pNear)
	if math.Abs(before-after) > 0.1 {
		t.Errorf("cosine drifted from %v to %v after projection", before, after)
	}
}

func TestRandomProjectionErrors(t *testing.T) {
	if _, err := NewRandomProjection(32, 64, 0, 1); err == nil {
		t.Error("expanding projection must be rejected")
	}
	if _, err := NewRandomProjection(0, 8, 0, 1); err == nil {
		t.Error("zero input dim must be rejected")
	}

	p, _ := NewRandomProjection(64, 16, 0, 1)
	if _, err := p.Compress(make([]float32, 32)); err == nil {
		t.Error("wrong input dimension must be rejected")
	}
	if _, err := p.Decompress(make([]float32, 16)); err == nil {
		t.Error("decompression must be unsupported")
	}
}
