package services

import (
	"fmt"
	"strings"
	"time"

	"comprobantes/internal/core"
)

// NotificationText renders the operator message for a processed document:
//
//	FACTURA detectada
//	Valor: 45.000 COP
//	Totales hoy (2025-03-01): FACTURAS 45.000 COP | TRANSACCIONES 0 COP
//	Remitente: +573001112233
//	Media: 0123456789ab:factura.jpg
func NotificationText(kind core.Category, amount core.Money, day core.DayKey, totals core.DayTotals, sender string, ref core.MediaRef) string {
	label := kind.String()
	if !kind.Tracked() {
		label = "NO CLASIFICADA"
	}
	value := "no identificado"
	if amount.Known() {
		value = core.FormatCOP(amount.Pesos)
	}

	lines := []string{
		label + " detectada",
		fmt.Sprintf("Valor: %s COP", value),
		fmt.Sprintf("Totales hoy (%s): FACTURAS %s COP | TRANSACCIONES %s COP",
			day, core.FormatCOP(totals.FacturasTotal), core.FormatCOP(totals.TransaccionesTotal)),
		"Remitente: " + sender,
		"Media: " + string(ref),
	}
	return strings.Join(lines, "\n")
}

// DuplicateText renders the message for media that was already processed.
func DuplicateText(ref core.MediaRef, firstSeen time.Time, sender string, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	lines := []string{
		"DUPLICADA detectada",
		"Primera vez: " + firstSeen.In(loc).Format("2006-01-02 15:04:05 MST"),
		"Remitente: " + sender,
		"Media: " + string(ref),
	}
	return strings.Join(lines, "\n")
}
