package services

import (
	"testing"
	"time"

	"comprobantes/internal/core"
)

func TestNotificationText(t *testing.T) {
	totals := core.DayTotals{FacturasTotal: 1234567, TransaccionesTotal: 120500}

	tests := []struct {
		name   string
		kind   core.Category
		amount core.Money
		want   string
	}{
		{
			name:   "invoice",
			kind:   core.Factura,
			amount: core.Money{Pesos: 45000},
			want: "FACTURA detectada\n" +
				"Valor: 45.000 COP\n" +
				"Totales hoy (2025-03-01): FACTURAS 1.234.567 COP | TRANSACCIONES 120.500 COP\n" +
				"Remitente: +573001112233\n" +
				"Media: 0123456789ab:f.jpg",
		},
		{
			name: "unclassified",
			kind: core.Unknown,
			want: "NO CLASIFICADA detectada\n" +
				"Valor: no identificado COP\n" +
				"Totales hoy (2025-03-01): FACTURAS 1.234.567 COP | TRANSACCIONES 120.500 COP\n" +
				"Remitente: +573001112233\n" +
				"Media: 0123456789ab:f.jpg",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NotificationText(tt.kind, tt.amount, "2025-03-01", totals, "+573001112233", "0123456789ab:f.jpg")
			if got != tt.want {
				t.Errorf("NotificationText() =\n%s\nwant\n%s", got, tt.want)
			}
		})
	}
}

func TestDuplicateText(t *testing.T) {
	first := time.Date(2025, 3, 1, 15, 4, 5, 0, time.UTC)
	got := DuplicateText("0123456789ab:f.jpg", first, "ana", nil)
	want := "DUPLICADA detectada\n" +
		"Primera vez: 2025-03-01 15:04:05 UTC\n" +
		"Remitente: ana\n" +
		"Media: 0123456789ab:f.jpg"
	if got != want {
		t.Errorf("DuplicateText() =\n%s\nwant\n%s", got, want)
	}
}
