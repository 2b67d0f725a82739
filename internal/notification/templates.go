package notification

// Template keys known to the core. The body text lives here; transports
// beyond email substitute their own rendering from the same variables.
const (
	TplBookingConfirmed      = "booking_confirmed"
	TplBookingCancelled      = "booking_cancelled"
	TplClassReminder24H      = "class_reminder_24h"
	TplClassReminder2H       = "class_reminder_2h"
	TplPaymentReminder       = "payment_reminder"
	TplPaymentOverdue        = "payment_overdue"
	TplSubscriptionSuspended = "subscription_suspended"
	TplSubscriptionCancelled = "subscription_cancelled"
	TplSubscriptionExpired   = "subscription_expired"
	TplCreditsExpiring       = "credits_expiring"
	TplCreditsExpired        = "credits_expired"
	TplXPConverted           = "xp_converted"
	TplPayoutPaid            = "payout_paid"
	TplWeMissYou             = "we_miss_you"
	TplWinBack               = "win_back"
)

type template struct {
	Subject string
	Body    string
}

// Bodies use {var} placeholders substituted from the variables map.
var templates = map[string]template{
	TplBookingConfirmed: {
		Subject: "Booking confirmed",
		Body: `Hi {name},

Your booking is confirmed!

Class: {class}
Date: {date}

See you at the academy!`,
	},
	TplBookingCancelled: {
		Subject: "Booking cancelled",
		Body: `Hi {name},

Your booking has been cancelled:

Class: {class}
Date: {date}

{credits} credits were returned to you.`,
	},
	TplClassReminder24H: {
		Subject: "Class tomorrow",
		Body: `Hi {name},

Reminder: you have {class} tomorrow at {time}.

See you soon!`,
	},
	TplClassReminder2H: {
		Subject: "Class in 2 hours",
		Body: `Hi {name},

Your {class} class starts at {time} today. Don't be late!`,
	},
	TplPaymentReminder: {
		Subject: "Payment due soon",
		Body: `Hi {name},

Installment {installment} of your plan is due on {due_date}.
Amount: R$ {amount}`,
	},
	TplPaymentOverdue: {
		Subject: "Payment overdue",
		Body: `Hi {name},

Installment {installment} of your plan is {overdue_days} days overdue.
Please settle it to keep your subscription active.`,
	},
	TplSubscriptionSuspended: {
		Subject: "Subscription suspended",
		Body: `Hi {name},

Your subscription was suspended after {overdue_days} days of overdue payment.
Your credits are kept; settle the open installment to resume booking.`,
	},
	TplSubscriptionCancelled: {
		Subject: "Subscription cancelled",
		Body: `Hi {name},

Your subscription was cancelled after {overdue_days} days of overdue payment.`,
	},
	TplSubscriptionExpired: {
		Subject: "Subscription expired",
		Body: `Hi {name},

Your subscription ended on {end_date}. {credits} unused credits expired with it.`,
	},
	TplCreditsExpiring: {
		Subject: "Credits expiring soon",
		Body: `Hi {name},

{credits} credits in your wallet expire on {expires_at}. Book a class before they are gone!`,
	},
	TplCreditsExpired: {
		Subject: "Credits expired",
		Body: `Hi {name},

{credits} credits expired on {expires_at} and were removed from your balance.`,
	},
	TplXPConverted: {
		Subject: "XP converted to credits",
		Body: `Hi {name},

{xp} XP were converted into {credits} credits, valid until {expires_at}. Enjoy!`,
	},
	TplPayoutPaid: {
		Subject: "Payout processed",
		Body: `Hi {name},

Your payout for {month}/{year} was processed.
Total: R$ {amount}`,
	},
	TplWeMissYou: {
		Subject: "We miss you!",
		Body: `Hi {name},

It has been {days} days since your last class. Your favorite slots are waiting!`,
	},
	TplWinBack: {
		Subject: "Come back to the academy",
		Body: `Hi {name},

We haven't seen you in {days} days. You still have {credits} credits on your balance. Book a class and get back on track!`,
	},
}
