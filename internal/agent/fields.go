package agent

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/hirewire/whatsapp-agent/internal/store"
)

// Semantic profile fields the agent asks candidates for. Counters are keyed
// on these names.
const (
	FieldName         = "name"
	FieldEmail        = "email"
	FieldNationalID   = "nationalId"
	FieldLocation     = "location"
	FieldExperience   = "experience"
	FieldAvailability = "availability"
)

// MaxFieldAsks is how many times a field may be asked before the executor
// substitutes a loop-breaker question.
const MaxFieldAsks = 2

// fieldAskPatterns classify outbound session text as "asking for field X".
// These are intentionally narrow keyword checks, not language understanding.
var fieldAskPatterns = map[string]*regexp.Regexp{
	FieldName:         regexp.MustCompile(`(?i)(cu[aá]l es tu nombre|c[oó]mo te llam|your (full )?name)`),
	FieldEmail:        regexp.MustCompile(`(?i)(correo|e-?mail|email)`),
	FieldNationalID:   regexp.MustCompile(`(?i)(c[eé]dula|documento de identidad|national id|dni)`),
	FieldLocation:     regexp.MustCompile(`(?i)(d[oó]nde viv[ei]s|en qu[eé] (ciudad|zona|barrio)|tu ciudad|ubicaci[oó]n|where (do you live|are you located)|what city)`),
	FieldExperience:   regexp.MustCompile(`(?i)(a[ñn]os de experiencia|cu[aá]nta experiencia|years of experience)`),
	FieldAvailability: regexp.MustCompile(`(?i)(disponibilidad|cu[aá]ndo pod[ér][íi]as|qu[eé] horario|availability|when (are you|could you be) available)`),
}

// ClassifyFieldAsks returns the semantic fields a session-text reply is
// asking for, in stable order.
func ClassifyFieldAsks(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	ordered := []string{FieldName, FieldEmail, FieldNationalID, FieldLocation, FieldExperience, FieldAvailability}
	var out []string
	for _, field := range ordered {
		if fieldAskPatterns[field].MatchString(text) {
			out = append(out, field)
		}
	}
	return out
}

// LoopBreakerQuestion is the deterministic substitute used when the model
// keeps re-asking for the same field: a closed yes/no confirmation when a
// candidate value is already on file, else one direct open question.
func LoopBreakerQuestion(field string, contact *store.Contact) string {
	known := knownFieldValue(field, contact)
	if known != "" {
		return fmt.Sprintf("Para confirmar, ¿%s es %q? Responde sí o no.", fieldLabel(field), known)
	}
	switch field {
	case FieldName:
		return "¿Me decís tu nombre completo, por favor?"
	case FieldEmail:
		return "¿Cuál es tu correo electrónico?"
	case FieldNationalID:
		return "¿Cuál es tu número de cédula?"
	case FieldLocation:
		return "¿En qué ciudad vivís actualmente?"
	case FieldExperience:
		return "¿Cuántos años de experiencia tenés?"
	case FieldAvailability:
		return "¿Qué días y horarios tenés disponibles?"
	default:
		return "¿Podrías repetir ese dato, por favor?"
	}
}

func knownFieldValue(field string, contact *store.Contact) string {
	if contact == nil {
		return ""
	}
	deref := func(s *string) string {
		if s == nil {
			return ""
		}
		return strings.TrimSpace(*s)
	}
	switch field {
	case FieldName:
		return deref(contact.Name)
	case FieldEmail:
		return deref(contact.Email)
	case FieldNationalID:
		return deref(contact.NationalID)
	case FieldLocation:
		return deref(contact.City)
	case FieldExperience:
		if contact.YearsExperience != nil {
			return fmt.Sprintf("%d años", *contact.YearsExperience)
		}
		return ""
	case FieldAvailability:
		return deref(contact.Availability)
	}
	return ""
}

func fieldLabel(field string) string {
	switch field {
	case FieldName:
		return "tu nombre"
	case FieldEmail:
		return "tu correo"
	case FieldNationalID:
		return "tu cédula"
	case FieldLocation:
		return "tu ciudad"
	case FieldExperience:
		return "tu experiencia"
	case FieldAvailability:
		return "tu disponibilidad"
	default:
		return "ese dato"
	}
}

// suspiciousNameFragments are strings that show up as "names" when the model
// misreads a greeting, a confirmation, or an attachment mention.
var suspiciousNameFragments = []string{
	"hola", "buenas", "buenos dias", "buenos días", "buenas tardes", "buenas noches",
	"buen dia", "buen día", "hello", "hi", "hey",
	"cv", "curriculum", "currículum",
	"si", "sí", "no", "ok", "okay", "vale", "dale", "claro", "gracias",
}

// SuspiciousName reports whether a proposed contact name looks like channel
// noise rather than a person's name.
func SuspiciousName(name string) bool {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return true
	}
	for _, frag := range suspiciousNameFragments {
		if n == frag {
			return true
		}
		if strings.HasPrefix(n, frag+" ") || strings.HasPrefix(n, frag+",") {
			return true
		}
	}
	return false
}
