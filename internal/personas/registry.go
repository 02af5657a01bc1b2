package personas

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Registry holds an ordered set of personas. Order matters: classification
// ties keep the first-encountered persona, so iteration must be deterministic.
type Registry struct {
	personas []*Persona
	byName   map[string]*Persona
	fallback string
}

// NewRegistry builds a registry from an ordered persona list. The fallback
// name designates the general-purpose research persona used when
// classification is too weak to commit.
func NewRegistry(personas []*Persona, fallback string) (*Registry, error) {
	if len(personas) == 0 {
		return nil, fmt.Errorf("registry requires at least one persona")
	}
	byName := make(map[string]*Persona, len(personas))
	for _, p := range personas {
		key := strings.ToLower(p.Name)
		if key == "" {
			return nil, fmt.Errorf("persona with empty name")
		}
		if _, dup := byName[key]; dup {
			return nil, fmt.Errorf("duplicate persona %q", p.Name)
		}
		byName[key] = p
	}
	if fallback == "" {
		fallback = personas[0].Name
	}
	if _, ok := byName[strings.ToLower(fallback)]; !ok {
		return nil, fmt.Errorf("fallback persona %q not in registry", fallback)
	}
	return &Registry{personas: personas, byName: byName, fallback: strings.ToLower(fallback)}, nil
}

// registryFile is the on-disk YAML shape of a persona registry.
type registryFile struct {
	Fallback string     `yaml:"fallback"`
	Personas []*Persona `yaml:"personas"`
}

// LoadRegistry reads a persona registry from a YAML file.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read persona registry: %w", err)
	}
	var rf registryFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parse persona registry: %w", err)
	}
	return NewRegistry(rf.Personas, rf.Fallback)
}

// Get looks up a persona by name, case-insensitively.
func (r *Registry) Get(name string) (*Persona, bool) {
	p, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

// Fallback returns the designated research fallback persona.
func (r *Registry) Fallback() *Persona {
	return r.byName[r.fallback]
}

// Personas returns the registry contents in declaration order.
func (r *Registry) Personas() []*Persona {
	return r.personas
}

// Names returns persona names in declaration order, for error messages and
// listings.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.personas))
	for _, p := range r.personas {
		names = append(names, p.Name)
	}
	return names
}

// DefaultRegistry returns the built-in persona set. Keyword lists are plain
// data so classification stays testable and localizable; each persona carries
// both English and Polish patterns.
func DefaultRegistry() *Registry {
	reg, err := NewRegistry([]*Persona{
		{
			Name:        "researcher",
			Role:        "research and investigation specialist",
			ModelTier:   TierRemoteLarge,
			Temperature: 0.3,
			Keywords: []string{
				"research", "investigate", "explore", "compare", "find out",
				"why", "how does", "explain", "analysis", "analyze",
				"zbadaj", "sprawdź", "porównaj", "dlaczego", "wyjaśnij", "analiza",
			},
		},
		{
			Name:        "coder",
			Role:        "software implementation specialist",
			ModelTier:   TierRemoteLarge,
			Temperature: 0.2,
			Keywords: []string{
				"implement", "code", "function", "refactor", "bug", "debug",
				"class", "api", "algorithm", "compile",
				"zaimplementuj", "kod", "funkcja", "błąd", "napraw", "algorytm",
			},
		},
		{
			Name:        "security",
			Role:        "application security specialist",
			ModelTier:   TierRemoteLarge,
			Temperature: 0.1,
			Keywords: []string{
				"security", "vulnerability", "exploit", "encrypt", "auth",
				"injection", "xss", "csrf", "audit", "threat",
				"bezpieczeństwo", "podatność", "szyfrowanie", "atak", "zagrożenie",
			},
		},
		{
			Name:        "tester",
			Role:        "quality assurance and testing specialist",
			ModelTier:   TierRemoteSmall,
			Temperature: 0.2,
			Keywords: []string{
				"test", "tests", "coverage", "mock", "assert", "regression",
				"qa", "verify", "validate",
				"testy", "przetestuj", "pokrycie", "weryfikacja",
			},
		},
		{
			Name:        "architect",
			Role:        "system design and architecture specialist",
			ModelTier:   TierRemoteLarge,
			Temperature: 0.4,
			Keywords: []string{
				"architecture", "design", "scalability", "structure", "pattern",
				"microservice", "schema", "diagram",
				"architektura", "projekt", "skalowalność", "struktura", "wzorzec",
			},
		},
		{
			Name:        "writer",
			Role:        "documentation and technical writing specialist",
			ModelTier:   TierRemoteSmall,
			Temperature: 0.6,
			Keywords: []string{
				"document", "documentation", "readme", "tutorial", "guide",
				"write up", "summary", "summarize",
				"dokumentacja", "opisz", "poradnik", "streszczenie", "podsumuj",
			},
		},
		{
			Name:        "generalist",
			Role:        "general-purpose assistant",
			ModelTier:   TierLocal,
			Temperature: 0.7,
			Keywords: []string{
				"hello", "chat", "question", "help me with",
				"cześć", "pytanie", "pomóż mi",
			},
		},
	}, "researcher")
	if err != nil {
		// Built-in data; a failure here is a programming error.
		panic(err)
	}
	return reg
}
