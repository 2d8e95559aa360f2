package domain

import "strings"

// Address — value object адреса. Сравнивается по значению, идентичности не имеет.
type Address struct {
	City    string `json:"city"`
	Street  string `json:"street"`
	Zipcode string `json:"zipcode"`
}

// NewAddress создаёт адрес и проверяет, что все поля заполнены.
func NewAddress(city, street, zipcode string) (Address, error) {
	addr := Address{
		City:    strings.TrimSpace(city),
		Street:  strings.TrimSpace(street),
		Zipcode: strings.TrimSpace(zipcode),
	}
	if err := addr.Validate(); err != nil {
		return Address{}, err
	}
	return addr, nil
}

// Validate возвращает ErrAddressIncomplete, если хотя бы одно поле пустое.
func (a Address) Validate() error {
	if a.City == "" || a.Street == "" || a.Zipcode == "" {
		return ErrAddressIncomplete
	}
	return nil
}

// Equal сравнивает адреса по значению.
func (a Address) Equal(other Address) bool {
	return a == other
}
