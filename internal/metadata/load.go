package metadata

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// definitionsFile is the YAML layout of a field definition file:
//
//	fields:
//	  - name: orderId
//	    checkpoint: Order
//	    default: unknown
//	    transforms:
//	      - xpath: //order/@id
//	status:
//	  delegate: orderState
//	  maxLength: 20
type definitionsFile struct {
	Fields []fieldYAML `yaml:"fields"`
	Status *statusYAML `yaml:"status,omitempty"`
}

type fieldYAML struct {
	Name             string          `yaml:"name"`
	Checkpoint       string          `yaml:"checkpoint"`
	SessionKeyPrefix string          `yaml:"sessionKeyPrefix,omitempty"`
	Default          *string         `yaml:"default,omitempty"`
	Transforms       []transformYAML `yaml:"transforms,omitempty"`
}

// transformYAML sets exactly one of its keys.
type transformYAML struct {
	Regex string `yaml:"regex,omitempty"`
	XPath string `yaml:"xpath,omitempty"`
	CUE   string `yaml:"cue,omitempty"`
}

type statusYAML struct {
	Name      string `yaml:"name,omitempty"`
	Error     string `yaml:"error,omitempty"`
	Success   string `yaml:"success,omitempty"`
	Delegate  string `yaml:"delegate,omitempty"`
	MaxLength int    `yaml:"maxLength,omitempty"`
}

// LoadFieldDefinitions reads an extractor from a YAML file.
func LoadFieldDefinitions(path string) (*Extractor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read field definitions: %w", err)
	}
	return ParseFieldDefinitions(data)
}

// ParseFieldDefinitions builds an extractor from YAML. Unknown keys are
// rejected.
func ParseFieldDefinitions(data []byte) (*Extractor, error) {
	var file definitionsFile
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	ext := &Extractor{}
	byName := make(map[string]Field)
	for i, fy := range file.Fields {
		def, err := fy.build()
		if err != nil {
			return nil, fmt.Errorf("invalid field %d: %w", i, err)
		}
		if _, dup := byName[def.Name]; dup {
			return nil, fmt.Errorf("invalid field %d: duplicate name %q", i, def.Name)
		}
		byName[def.Name] = def
		ext.Fields = append(ext.Fields, def)
	}

	if sy := file.Status; sy != nil {
		status := &StatusField{
			Name:         sy.Name,
			ErrorLabel:   sy.Error,
			SuccessLabel: sy.Success,
			MaxLength:    sy.MaxLength,
		}
		if sy.Delegate != "" {
			delegate, ok := byName[sy.Delegate]
			if !ok {
				return nil, fmt.Errorf("invalid status: unknown delegate %q", sy.Delegate)
			}
			status.Delegate = delegate
		}
		ext.Fields = append(ext.Fields, status)
	}
	return ext, nil
}

func (fy fieldYAML) build() (*FieldDefinition, error) {
	if fy.Name == "" {
		return nil, errors.New("name is required")
	}
	if fy.Checkpoint == "" {
		return nil, fmt.Errorf("%s: checkpoint is required", fy.Name)
	}
	def := &FieldDefinition{
		Name:             fy.Name,
		CheckpointName:   fy.Checkpoint,
		SessionKeyPrefix: fy.SessionKeyPrefix,
		Default:          fy.Default,
	}
	for j, ty := range fy.Transforms {
		t, err := ty.build()
		if err != nil {
			return nil, fmt.Errorf("%s: transform %d: %w", fy.Name, j, err)
		}
		def.Transforms = append(def.Transforms, t)
	}
	return def, nil
}

func (ty transformYAML) build() (Transform, error) {
	set := 0
	for _, v := range []string{ty.Regex, ty.XPath, ty.CUE} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return nil, errors.New("exactly one of regex, xpath, cue is required")
	}
	switch {
	case ty.Regex != "":
		return NewRegexTransform(ty.Regex)
	case ty.XPath != "":
		return NewXPathTransform(ty.XPath)
	default:
		return NewCUEPathTransform(ty.CUE)
	}
}
