package auth

const (
	PermProfileRead   = "profile.read"
	PermProfileUpdate = "profile.update"
	PermAccountDelete = "account.delete"
)

var BuiltinPermissions = []Permission{
	{Key: PermProfileRead, Description: "Read own profile", Enabled: true},
	{Key: PermProfileUpdate, Description: "Update own profile", Enabled: true},
	{Key: PermAccountDelete, Description: "Delete own account", Enabled: true},
}
