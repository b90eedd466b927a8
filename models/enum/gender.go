package enum

// Gender 註冊表單的性別選項
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderOther  Gender = "other"
)

func (g Gender) Valid() bool {
	switch g {
	case "", GenderMale, GenderFemale, GenderOther:
		return true
	}
	return false
}
