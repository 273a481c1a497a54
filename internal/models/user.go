package models

type Role string

const (
	RoleStaff Role = "staff"
	RoleAdmin Role = "admin"
)

// StaffMember - сотрудник, который пользуется LOA
type StaffMember struct {
	ID        uint   `gorm:"primarykey" json:"id"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
	DiscordID string `gorm:"type:varchar(32);uniqueIndex;not null" json:"discord_id"`
	Username  string `json:"username"`
	Role      Role   `gorm:"type:varchar(10);default:'staff'" json:"role"`
}

// IsAdmin проверяет, может ли сотрудник одобрять чужие LOA
func (u *StaffMember) IsAdmin() bool {
	return u.Role == RoleAdmin
}

func (StaffMember) TableName() string {
	return "staff_members"
}
