// ABOUTME: Waiting queue of customer ids in strict arrival order.
// ABOUTME: A customer id appears at most once; callers hold the broker mutex.

package broker

// waitingQueue is an ordered list of customer ids awaiting assignment.
type waitingQueue []string

// push appends a customer id at the tail.
func (q *waitingQueue) push(customerID string) {
	*q = append(*q, customerID)
}

// popHead removes and returns the head customer id. ok is false when empty.
func (q *waitingQueue) popHead() (customerID string, ok bool) {
	if len(*q) == 0 {
		return "", false
	}
	customerID = (*q)[0]
	*q = (*q)[1:]
	return customerID, true
}

// restoreHead puts a popped customer id back at the head.
func (q *waitingQueue) restoreHead(customerID string) {
	*q = append(waitingQueue{customerID}, *q...)
}

// contains reports whether the customer id is queued.
func (q waitingQueue) contains(customerID string) bool {
	for _, id := range q {
		if id == customerID {
			return true
		}
	}
	return false
}

// remove drops the customer id from the queue, preserving order.
func (q *waitingQueue) remove(customerID string) {
	for i, id := range *q {
		if id == customerID {
			*q = append((*q)[:i], (*q)[i+1:]...)
			return
		}
	}
}
