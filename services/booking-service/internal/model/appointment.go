package model

import "time"

type Appointment struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	ProviderID string     `json:"provider_id"`
	Date       time.Time  `json:"date"`
	CanceledAt *time.Time `json:"canceled_at"`
	CreatedAt  time.Time  `json:"created_at"`
}

func (a Appointment) Active() bool {
	return a.CanceledAt == nil
}

type User struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Provider bool   `json:"provider"`
}

type Notification struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	User      string    `json:"user"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}
