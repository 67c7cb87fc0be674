package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/shaiso/Stepwright/internal/domain"
	"gopkg.in/yaml.v3"
)

// StepFile — YAML-файл со StepSet.
//
//	test_case: TC001
//	steps:
//	  - step_no: 1
//	    description: Open site
//	    action: OPEN_BROWSER
//	    value: https://example.com
//	  - step_no: 2
//	    description: Click search
//	    action: CLICK
//	    locator: //button[@id='search']
//
// tc_id шага по умолчанию берётся из test_case.
type StepFile struct {
	TestCase string        `yaml:"test_case"`
	Steps    []domain.Step `yaml:"steps"`
}

// LoadStepFile читает и проверяет StepSet из YAML.
// testCaseID из командной строки побеждает test_case из файла.
func LoadStepFile(path, testCaseID string) ([]domain.Step, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read step file: %w", err)
	}
	return ParseStepFile(data, testCaseID)
}

// ParseStepFile разбирает StepSet из YAML.
func ParseStepFile(data []byte, testCaseID string) ([]domain.Step, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var file StepFile
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse step file: %w", err)
	}

	if testCaseID == "" {
		testCaseID = file.TestCase
	}
	if testCaseID == "" {
		return nil, errors.New("step file: test case is not set")
	}

	for i := range file.Steps {
		if file.Steps[i].TestCaseID == "" {
			file.Steps[i].TestCaseID = testCaseID
		}
	}

	if err := domain.NewStepSet(file.Steps).Validate(); err != nil {
		return nil, fmt.Errorf("step file: %w", err)
	}
	return file.Steps, nil
}
