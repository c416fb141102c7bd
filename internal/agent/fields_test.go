package agent

import (
	"reflect"
	"strings"
	"testing"

	"github.com/hirewire/whatsapp-agent/internal/store"
)

func TestClassifyFieldAsks(t *testing.T) {
	tests := []struct {
		text string
		want []string
	}{
		{"¿Cuál es tu nombre completo?", []string{FieldName}},
		{"Pasame tu correo y tu número de cédula, por favor", []string{FieldEmail, FieldNationalID}},
		{"¿En qué ciudad vivís? ¿Y cuántos años de experiencia tenés?", []string{FieldLocation, FieldExperience}},
		{"What is your availability next week?", []string{FieldAvailability}},
		{"Gracias, quedamos en contacto.", nil},
		{"", nil},
	}
	for _, tt := range tests {
		got := ClassifyFieldAsks(tt.text)
		if !reflect.DeepEqual(got, tt.want) {
			t.Fatalf("ClassifyFieldAsks(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestLoopBreakerQuestionConfirmsKnownValue(t *testing.T) {
	city := "Luque"
	contact := &store.Contact{City: &city}
	q := LoopBreakerQuestion(FieldLocation, contact)
	if !strings.Contains(q, "Luque") || !strings.Contains(q, "sí o no") {
		t.Fatalf("q = %q, want a yes/no confirmation of the known city", q)
	}
}

func TestLoopBreakerQuestionAsksDirectlyWhenUnknown(t *testing.T) {
	q := LoopBreakerQuestion(FieldNationalID, &store.Contact{})
	if !strings.Contains(q, "cédula") {
		t.Fatalf("q = %q, want a direct national-id question", q)
	}
	if strings.Contains(q, "sí o no") {
		t.Fatalf("q = %q, unknown value should not produce a confirmation", q)
	}
}

func TestSuspiciousName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"hola", true},
		{"Buenas tardes", true},
		{"CV", true},
		{"sí", true},
		{"Ok gracias", true},
		{"", true},
		{"Ana López", false},
		{"María Fernanda Benítez", false},
		{"Simón", false},
	}
	for _, tt := range tests {
		if got := SuspiciousName(tt.name); got != tt.want {
			t.Fatalf("SuspiciousName(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
