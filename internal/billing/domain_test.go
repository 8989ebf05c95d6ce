package billing

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveStatus(t *testing.T) {
	cases := []struct {
		name   string
		billed int64
		paid   int64
		want   BillStatus
	}{
		{"unpaid", 350, 0, BillStatusDue},
		{"partial", 350, 150, BillStatusPartial},
		{"settled", 350, 350, BillStatusPaid},
		{"overpaid", 350, 500, BillStatusAdvance},
		{"zero bill unpaid stays due", 0, 0, BillStatusDue},
		{"zero bill with payment", 0, 100, BillStatusAdvance},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, ResolveStatus(tc.billed, tc.paid))
		})
	}
}
