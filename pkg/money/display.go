package money

import (
	"fmt"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Display renders the amount for people (e-mails, statements), using the
// currency symbol and digit grouping of the given locale.
func (m Money) Display(unit currency.Unit, tag language.Tag) string {
	p := message.NewPrinter(tag)

	cents := m.cents
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}

	return fmt.Sprintf("%s%s%s.%02d", sign, p.Sprint(currency.Symbol(unit)), p.Sprintf("%d", cents/100), cents%100)
}
