package models

import (
	"time"
)

// Course представляет курс каталога
type Course struct {
	ID          string    `json:"id" db:"id"`
	Slug        string    `json:"slug" db:"slug"`
	Title       string    `json:"title" db:"title"`
	Description string    `json:"description" db:"description"`
	VideoURL    string    `json:"videoUrl" db:"video_url"`
	Module      string    `json:"module" db:"module"`
	Order       int       `json:"order" db:"sort_order"`
	Price       int64     `json:"price" db:"price"` // в центах
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
}

// Enrollment дает пользователю доступ к курсу. ID совпадает с идентификатором заказа
type Enrollment struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"userId" db:"user_id"`
	CourseID  string    `json:"courseId" db:"course_id"`
	OrderID   string    `json:"orderId" db:"order_id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}
