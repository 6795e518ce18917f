package ledger

import (
	"fmt"

	"campusmart/models"
)

var allowedTransitions = map[models.OrderStatus][]models.OrderStatus{
	models.StatusPending:  {models.StatusEscrow},
	models.StatusEscrow:   {models.StatusCompleted, models.StatusDisputed},
	models.StatusDisputed: {models.StatusRefunded},
}

// ValidateTransition ensures the transition follows the defined state machine.
func ValidateTransition(current, next models.OrderStatus) error {
	allowed, ok := allowedTransitions[current]
	if !ok {
		return fmt.Errorf("%w: no transitions allowed from %s", ErrInvalidTransition, current)
	}
	for _, state := range allowed {
		if state == next {
			return nil
		}
	}
	return fmt.Errorf("%w: %s to %s is not permitted", ErrInvalidTransition, current, next)
}
