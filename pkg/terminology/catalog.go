package terminology

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/synaptica-ai/recruit/pkg/common/models"
	"gopkg.in/yaml.v3"
)

// Concept is a diagnosis recognised in free-text condition lists.
type Concept struct {
	Display  string   `yaml:"display" json:"display"`
	ICD10    string   `yaml:"icd10" json:"icd10"`
	Keywords []string `yaml:"keywords" json:"keywords"`
}

type Catalog struct {
	Concepts map[string]Concept `yaml:"concepts" json:"concepts"`
}

func Load(path string) (Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return DefaultCatalog(), err
	}
	var cat Catalog
	if err := yaml.Unmarshal(content, &cat); err != nil {
		return Catalog{}, err
	}
	if len(cat.Concepts) == 0 {
		return Catalog{}, fmt.Errorf("terminology catalog empty")
	}
	for key, concept := range cat.Concepts {
		if concept.ICD10 == "" {
			return Catalog{}, fmt.Errorf("concept %s: icd10 code required", key)
		}
	}
	return cat, nil
}

func (c Catalog) Lookup(key string) (Concept, bool) {
	if c.Concepts == nil {
		return Concept{}, false
	}
	concept, ok := c.Concepts[strings.ToLower(key)]
	if ok {
		return concept, true
	}
	for k, v := range c.Concepts {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return Concept{}, false
}

// Code returns the ICD-10 code for a free-text condition. When several
// concepts match, the one with the longest keyword wins so "vascular
// dementia" is not coded as unspecified dementia.
func (c Catalog) Code(condition string) (Concept, bool) {
	lower := strings.ToLower(strings.TrimSpace(condition))
	if lower == "" {
		return Concept{}, false
	}

	keys := make([]string, 0, len(c.Concepts))
	for k := range c.Concepts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var best Concept
	bestLen := 0
	for _, k := range keys {
		concept := c.Concepts[k]
		for _, kw := range concept.Keywords {
			kw = strings.ToLower(kw)
			if kw != "" && len(kw) > bestLen && strings.Contains(lower, kw) {
				best, bestLen = concept, len(kw)
			}
		}
	}
	return best, bestLen > 0
}

// Annotate fills p.ConditionCodes for every condition the catalog knows.
// Conditions without a code are left out. Screening never reads the codes.
func (c Catalog) Annotate(p *models.Patient) {
	codes := make(map[string]string)
	for _, condition := range p.Conditions {
		if concept, ok := c.Code(condition); ok {
			codes[condition] = concept.ICD10
		}
	}
	if len(codes) == 0 {
		p.ConditionCodes = nil
		return
	}
	p.ConditionCodes = codes
}

func DefaultCatalog() Catalog {
	return Catalog{Concepts: map[string]Concept{
		"mild-cognitive-impairment": {
			Display:  "Mild cognitive impairment",
			ICD10:    "G31.84",
			Keywords: []string{"mild cognitive impairment", "mci"},
		},
		"alzheimers-disease": {
			Display:  "Alzheimer's disease",
			ICD10:    "G30.9",
			Keywords: []string{"alzheimer"},
		},
		"dementia": {
			Display:  "Dementia, unspecified",
			ICD10:    "F03.90",
			Keywords: []string{"dementia"},
		},
		"vascular-dementia": {
			Display:  "Vascular dementia",
			ICD10:    "F01.50",
			Keywords: []string{"vascular dementia"},
		},
		"epilepsy": {
			Display:  "Epilepsy, unspecified",
			ICD10:    "G40.909",
			Keywords: []string{"epilepsy", "seizure disorder", "seizure"},
		},
		"schizophrenia": {
			Display:  "Schizophrenia",
			ICD10:    "F20.9",
			Keywords: []string{"schizophrenia"},
		},
		"bipolar-disorder": {
			Display:  "Bipolar disorder",
			ICD10:    "F31.9",
			Keywords: []string{"bipolar"},
		},
		"stroke": {
			Display:  "Cerebral infarction",
			ICD10:    "I63.9",
			Keywords: []string{"stroke", "cerebrovascular accident"},
		},
		"tia": {
			Display:  "Transient cerebral ischemic attack",
			ICD10:    "G45.9",
			Keywords: []string{"transient ischemic"},
		},
		"ckd-end-stage": {
			Display:  "End stage renal disease",
			ICD10:    "N18.6",
			Keywords: []string{"end-stage renal", "end-stage kidney", "esrd"},
		},
		"renal-failure": {
			Display:  "Kidney failure, unspecified",
			ICD10:    "N19",
			Keywords: []string{"renal failure", "kidney failure"},
		},
		"hepatic-failure": {
			Display:  "Hepatic failure",
			ICD10:    "K72.90",
			Keywords: []string{"hepatic failure", "liver failure"},
		},
		"malignant-neoplasm": {
			Display:  "Malignant neoplasm, unspecified",
			ICD10:    "C80.1",
			Keywords: []string{"cancer", "carcinoma", "malignan"},
		},
		"hypertension": {
			Display:  "Essential hypertension",
			ICD10:    "I10",
			Keywords: []string{"hypertension"},
		},
		"type-2-diabetes": {
			Display:  "Type 2 diabetes mellitus",
			ICD10:    "E11.9",
			Keywords: []string{"type 2 diabetes", "t2dm"},
		},
	}}
}
