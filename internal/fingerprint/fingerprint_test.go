// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dirkpetersen/claudefs/internal/model"
)

func TestHashDeterministic(t *testing.T) {
	h1 := Hash([]byte("hello world"))
	h2 := Hash([]byte("hello world"))
	assert.Equal(t, h1, h2)
}

func TestHashDifferentData(t *testing.T) {
	assert.NotEqual(t, Hash([]byte("hello")), Hash([]byte("world")))
}

func TestSuperFeaturesIdentical(t *testing.T) {
	data := []byte("hello world this is test data for super features computation")
	sf1 := Compute(data)
	sf2 := Compute(data)
	assert.Equal(t, sf1.SuperFeatures, sf2.SuperFeatures)
	assert.True(t, sf1.SimilarTo(sf2))
}

func TestSuperFeaturesShortData(t *testing.T) {
	sf := SuperFeatures([]byte("hi"))
	assert.Equal(t, [4]uint64{0, 0, 0, 0}, sf)
}

func TestSimilarRequiresThreeMatches(t *testing.T) {
	a := model.Fingerprint{SuperFeatures: [4]uint64{1, 2, 3, 4}}
	b := model.Fingerprint{SuperFeatures: [4]uint64{1, 2, 3, 9}}
	c := model.Fingerprint{SuperFeatures: [4]uint64{1, 2, 8, 9}}

	assert.True(t, a.SimilarTo(b))
	assert.False(t, a.SimilarTo(c))
}
