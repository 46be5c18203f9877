package dataset

import (
	"fmt"
)

// Vocabulary is an ordered, fixed set of class names with a bijective
// mapping to the indices [0, Len()).
type Vocabulary struct {
	names   []string
	indices map[string]int
}

// NewVocabulary builds a vocabulary from names in the given order
func NewVocabulary(names []string) (*Vocabulary, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("vocabulary cannot be empty")
	}

	v := &Vocabulary{
		names:   make([]string, len(names)),
		indices: make(map[string]int, len(names)),
	}
	for i, name := range names {
		if name == "" {
			return nil, fmt.Errorf("vocabulary entry %d is empty", i)
		}
		if prev, exists := v.indices[name]; exists {
			return nil, fmt.Errorf("duplicate class %q at positions %d and %d", name, prev, i)
		}
		v.names[i] = name
		v.indices[name] = i
	}
	return v, nil
}

// Len returns the number of classes
func (v *Vocabulary) Len() int {
	return len(v.names)
}

// Index returns the class index for name
func (v *Vocabulary) Index(name string) (int, bool) {
	idx, ok := v.indices[name]
	return idx, ok
}

// Name returns the class name at index
func (v *Vocabulary) Name(index int) string {
	return v.names[index]
}

// Names returns a copy of the class names in index order
func (v *Vocabulary) Names() []string {
	return append([]string(nil), v.names...)
}

// petsClasses are the Oxford-IIIT Pets breeds: cats are capitalised, dogs are
// not. Multi-word dog breeds are cut to what the label pattern can capture.
var petsClasses = []string{
	"Abyssinian", "Bengal", "Birman", "Bombay", "British_Shorthair", "Egyptian_Mau", "Maine_Coon",
	"Persian", "Ragdoll", "Russian_Blue", "Siamese", "Sphynx", "american_bulldog", "american_pit",
	"basset_hound", "beagle", "boxer", "chihuahua", "english_cocker", "english_setter", "german_shorthaired",
	"great_pyrenees", "havanese", "japanese_chin", "keeshond", "leonberger", "miniature_pinscher", "newfoundland",
	"pomeranian", "pug", "saint_bernard", "samoyed", "scottish_terrier", "shiba_inu", "staffordshire_bull",
	"wheaten_terrier", "yorkshire_terrier",
}

// PetsVocabulary returns the fixed 37-class pets vocabulary
func PetsVocabulary() *Vocabulary {
	v, err := NewVocabulary(petsClasses)
	if err != nil {
		panic(err)
	}
	return v
}
