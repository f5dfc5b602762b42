package order

import (
	"context"
	"fmt"
	"time"
)

// Email dispatch is fire-and-forget: Enqueue hands the message to a
// background worker and the request never waits on delivery.

func (s *service) sendOrderEmails(o *Order, discount float64) {
	if s.mailer == nil {
		return
	}

	subject := fmt.Sprintf("Order %s confirmed - thank you for your purchase!", o.ID)
	body := fmt.Sprintf(`
		<html><body>
		<p>Thank you for your order!</p>
		<p><strong>Order details:</strong></p>
		<ul>
			<li>Order ID: %s</li>
			<li>Total: %.2f</li>
			<li>Discount applied: %.2f</li>
		</ul>
		<p>We'll send you another email when your order ships.</p>
		</body></html>`, o.ID, o.TotalAmount, discount)
	s.mailer.Enqueue(o.Email, subject, body)

	if s.adminEmail != "" {
		adminSubject := fmt.Sprintf("New order %s", o.ID)
		adminBody := fmt.Sprintf(`
			<html><body>
			<p>Order %s placed by %s for %.2f (%d items).</p>
			</body></html>`, o.ID, o.Email, o.TotalAmount, len(o.OrderItems))
		s.mailer.Enqueue(s.adminEmail, adminSubject, adminBody)
	}
}

func (s *service) sendPickupEmails(o *Order, expiresAt time.Time) {
	if s.mailer == nil {
		return
	}

	subject := fmt.Sprintf("Pickup reservation %s confirmed", o.ID)
	body := fmt.Sprintf(`
		<html><body>
		<p>Your pickup reservation is confirmed.</p>
		<ul>
			<li>Order ID: %s</li>
			<li>Total due at pickup: %.2f</li>
			<li>Reserved until: %s</li>
		</ul>
		<p>Unpaid reservations are released after the hold expires.</p>
		</body></html>`, o.ID, o.TotalAmount, expiresAt.Format(time.RFC3339))
	s.mailer.Enqueue(o.Email, subject, body)

	if s.adminEmail != "" {
		adminSubject := fmt.Sprintf("New pickup reservation %s", o.ID)
		adminBody := fmt.Sprintf(`
			<html><body>
			<p>Pickup reservation %s placed by %s, due %.2f, held until %s.</p>
			</body></html>`, o.ID, o.Email, o.TotalAmount, expiresAt.Format(time.RFC3339))
		s.mailer.Enqueue(s.adminEmail, adminSubject, adminBody)
	}
}

// sendCancelEmails notifies customer and admin about a cancellation, at
// most once per order within the guard's suppression window.
func (s *service) sendCancelEmails(ctx context.Context, o *Order) {
	if s.mailer == nil {
		return
	}
	if s.guard != nil && !s.guard.FirstNotice(ctx, o.ID) {
		return
	}

	subject := fmt.Sprintf("Order %s canceled", o.ID)
	body := fmt.Sprintf(`
		<html><body>
		<p>Your order %s has been canceled.</p>
		<p>If you already paid, the amount will be refunded.</p>
		</body></html>`, o.ID)
	s.mailer.Enqueue(o.Email, subject, body)

	if s.adminEmail != "" {
		adminBody := fmt.Sprintf(`
			<html><body>
			<p>Order %s (%s) was canceled.</p>
			</body></html>`, o.ID, o.Email)
		s.mailer.Enqueue(s.adminEmail, subject, adminBody)
	}
}

func (s *service) sendShippedEmail(o *Order) {
	if s.mailer == nil {
		return
	}

	subject := fmt.Sprintf("Order %s shipped", o.ID)
	body := fmt.Sprintf(`
		<html><body>
		<p>Your order %s is on its way.</p>
		<p>Tracking code: %s</p>
		</body></html>`, o.ID, o.TrackingCode)
	s.mailer.Enqueue(o.Email, subject, body)
}

func (s *service) sendStatusEmail(o *Order, newStatus OrderStatus) {
	if s.mailer == nil || s.adminEmail == "" {
		return
	}

	subject := fmt.Sprintf("Order %s status changed to %s", o.ID, newStatus)
	body := fmt.Sprintf(`
		<html><body>
		<p>Order %s is now %s.</p>
		</body></html>`, o.ID, newStatus)
	s.mailer.Enqueue(s.adminEmail, subject, body)
}
