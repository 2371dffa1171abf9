package workflow

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nidhogg/trebol/internal/knowledge"
)

const assistantIntro = `Eres un asistente virtual de "Lotería El Trébol", una tienda de billetes de lotería en España.`

const businessFacts = `INFORMACIÓN DE LA EMPRESA:
- Nombre: Lotería El Trébol
- Horario: Lunes a viernes 9:00-18:00, sábados 9:00-14:00
- Ubicación: Calle Principal 123, Madrid
- Sorteos: Todos los sábados a las 20:00
- Premios: Hasta 100.000€
- Suscripción de abonados: 20€ anuales (acceso a billetes exclusivos)`

const assistantRules = `INSTRUCCIONES IMPORTANTES:
1. NUNCA inventes números de billetes o precios. Usa solo la información que te proporcione el sistema.
2. Sé amigable, profesional y usa emojis apropiados.
3. Si el usuario pregunta por billetes exclusivos y no es abonado, explica los beneficios de la suscripción.
4. Para compras, menciona siempre que un operador humano completará el proceso.
5. Mantén las respuestas concisas pero informativas.`

// maxContextChars caps each knowledge entry appended to the general prompt.
const maxContextChars = 400

func systemPrompt(p Profile, subscriber bool, situation string) string {
	var b strings.Builder
	b.WriteString(assistantIntro)
	b.WriteString("\n\n")
	b.WriteString(businessFacts)
	b.WriteString("\n\nESTADO DEL USUARIO:\n- Tipo: ")
	if subscriber {
		b.WriteString("Abonado (acceso a billetes exclusivos)")
	} else {
		b.WriteString("Usuario regular")
	}
	if situation != "" {
		b.WriteString("\n\nSITUACIÓN:\n")
		b.WriteString(situation)
	}
	b.WriteString("\n\n")
	b.WriteString(assistantRules)
	if p.Intro != "" {
		b.WriteString("\n\n")
		b.WriteString(p.Intro)
	}
	return b.String()
}

func knowledgeContext(entries []knowledge.Entry) string {
	if len(entries) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("BASE DE CONOCIMIENTO:")
	for _, e := range entries {
		b.WriteString("\n- ")
		if e.Title != "" {
			b.WriteString(e.Title)
			b.WriteString(": ")
		}
		b.WriteString(truncate(e.Content, maxContextChars))
	}
	return b.String()
}

func formatPrice(price float64) string {
	return strconv.FormatFloat(price, 'f', -1, 64) + "€"
}

func yesNo(v bool) string {
	if v {
		return "Sí"
	}
	return "No"
}

// truncate cuts s to at most n runes, appending "..." when it cut.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

var keywordFallbacks = []struct {
	keyword string
	answer  string
}{
	{"horario", "Nuestro horario de atención es de lunes a viernes de 9:00 a 18:00 horas, y los sábados de 9:00 a 14:00 horas. ¡Te esperamos en Calle Principal 123, Madrid!"},
	{"ubicacion", "Nos encontramos en Calle Principal 123, Madrid. ¡Ven a visitarnos!"},
	{"sorteo", "Nuestros sorteos se realizan todos los sábados a las 20:00 horas. ¡No te pierdas la oportunidad de ganar!"},
	{"abonado", "Hazte abonado por solo 20€ anuales y accede a billetes exclusivos. ¡Pregúntanos cómo!"},
}

const generalApology = "❌ Lo siento, hay un problema técnico. ¿Podrías intentar de nuevo? Mientras tanto puedes preguntarme por horarios, ubicación o sorteos, o consultar un billete escribiendo un número de 5 dígitos."

var accentFolder = strings.NewReplacer("á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", "ü", "u")

// generalFallback picks a canned answer by keyword, or the apology.
func generalFallback(message string) string {
	folded := accentFolder.Replace(strings.ToLower(message))
	for _, kf := range keywordFallbacks {
		if strings.Contains(folded, kf.keyword) {
			return fmt.Sprintf("%s (Respuesta automática)", kf.answer)
		}
	}
	return generalApology
}
