package session

import "time"

// Kind is the role of whoever is writing.
type Kind string

const (
	KindAdmin   Kind = "admin"
	KindDoctor  Kind = "doctor"
	KindPatient Kind = "paciente_externo"
)

// IsStaff reports whether the kind may use personal-only tools.
func (k Kind) IsStaff() bool { return k == KindAdmin || k == KindDoctor }

type User struct {
	ID          uint      `gorm:"primaryKey"`
	PhoneNumber string    `gorm:"column:phone_number;size:30;uniqueIndex;not null"`
	DisplayName string    `gorm:"column:display_name;size:200"`
	EsAdmin     bool      `gorm:"column:es_admin;not null;default:false"`
	Timezone    string    `gorm:"column:timezone;size:64"`
	LastSeen    time.Time `gorm:"column:last_seen"`
	CreatedAt   time.Time
}

func (User) TableName() string { return "usuarios" }

type UserSession struct {
	ID            uint      `gorm:"primaryKey"`
	UserID        string    `gorm:"column:user_id;size:64;index;not null"`
	ThreadID      string    `gorm:"column:thread_id;size:128;uniqueIndex;not null"`
	PhoneNumber   string    `gorm:"column:phone_number;size:30"`
	MessagesCount int       `gorm:"column:messages_count;not null;default:0"`
	LastActivity  time.Time `gorm:"column:last_activity;index"`
	CreatedAt     time.Time
}

func (UserSession) TableName() string { return "user_sessions" }

// ClassificationRecord is one row of the LLM classification audit log.
type ClassificationRecord struct {
	ID                        uint    `gorm:"primaryKey"`
	SessionID                 string  `gorm:"column:session_id;size:128;index"`
	UserID                    string  `gorm:"column:user_id;size:64;index"`
	Modelo                    string  `gorm:"column:modelo;size:100"`
	Clasificacion             string  `gorm:"column:clasificacion;size:50"`
	Confianza                 float64 `gorm:"column:confianza"`
	Fuente                    string  `gorm:"column:fuente;size:20"`
	HerramientasSeleccionadas string  `gorm:"column:herramientas_seleccionadas"`
	Mensaje                   string  `gorm:"column:mensaje"`
	TiempoMS                  int64   `gorm:"column:tiempo_ms"`
	CreatedAt                 time.Time
}

func (ClassificationRecord) TableName() string { return "clasificaciones_llm" }

// Models lists the tables owned by this package.
func Models() []any {
	return []any{&User{}, &UserSession{}, &ClassificationRecord{}}
}
