/*
status.go - Derive lifecycle status from the event log

PURPOSE:
  A transaction's status is never stored. It is computed here, on read,
  from the ordered event sequence. This is the only way status is ever
  obtained; there is no status column to drift from the log.

CONTRACT:
  Pure and deterministic. No I/O. Single scan of the sequence.

ANOMALIES:
  The storage layer enforces at-most-one event per code, so a duplicate
  should be impossible. If one exists anyway, the deriver reports it as a
  LogAnomalyError instead of silently picking a winner - the status it
  returns alongside the error still reflects the first occurrence of each
  code, so callers that only log the anomaly can keep going.
*/
package ledger

// DeriveStatus replays a transaction's ordered event sequence into a
// Status summary. The first Paid event's actor is recorded as the payer.
func DeriveStatus(transactionID TransactionID, events []Event) (Status, error) {
	var status Status
	var anomaly error
	counts := make(map[EventCode]int, 4)

	for _, ev := range events {
		counts[ev.Code]++
		if counts[ev.Code] == 2 && anomaly == nil {
			anomaly = &LogAnomalyError{
				TransactionID: transactionID,
				Code:          ev.Code,
				Count:         countTotal(events, ev.Code),
			}
		}

		switch ev.Code {
		case CodePaid:
			if !status.Paid {
				status.Paid = true
				status.PayerID = ev.ActorID
			}
		case CodeTaxed:
			status.Taxed = true
		case CodeReturned:
			status.Returned = true
		case CodeDeleted:
			status.Deleted = true
		}
	}

	return status, anomaly
}

func countTotal(events []Event, code EventCode) int {
	n := 0
	for _, ev := range events {
		if ev.Code == code {
			n++
		}
	}
	return n
}
