package core

// CategoryItem is a selectable category. Icon is a symbolic icon name the
// client maps to an asset.
type CategoryItem struct {
	ID    int    `json:"id"`
	Group string `json:"group"`
	Name  string `json:"name"`
	Icon  string `json:"icon"`
}

type CategoryGroup struct {
	ID    int            `json:"id"`
	Name  string         `json:"name"`
	Items []CategoryItem `json:"items"`
}

type AccountItem struct {
	ID    int    `json:"id"`
	Group string `json:"group"`
	Name  string `json:"name"`
	Icon  string `json:"icon"`
}

type AccountGroup struct {
	ID    int           `json:"id"`
	Name  string        `json:"name"`
	Items []AccountItem `json:"items"`
}

// Catalog is the fixed set of categories and accounts offered when a
// record is entered.
type Catalog struct {
	Expense  []CategoryGroup `json:"expense"`
	Income   []CategoryGroup `json:"income"`
	Accounts []AccountGroup  `json:"accounts"`

	categories map[int]CategoryItem
	accounts   map[int]AccountItem
}

// NewCatalog indexes the given groups by item ID.
func NewCatalog(expense, income []CategoryGroup, accounts []AccountGroup) *Catalog {
	c := &Catalog{
		Expense:    expense,
		Income:     income,
		Accounts:   accounts,
		categories: make(map[int]CategoryItem),
		accounts:   make(map[int]AccountItem),
	}
	for _, groups := range [][]CategoryGroup{expense, income} {
		for _, g := range groups {
			for _, it := range g.Items {
				c.categories[it.ID] = it
			}
		}
	}
	for _, g := range accounts {
		for _, it := range g.Items {
			c.accounts[it.ID] = it
		}
	}
	return c
}

func (c *Catalog) Category(id int) (CategoryItem, bool) {
	it, ok := c.categories[id]
	return it, ok
}

func (c *Catalog) Account(id int) (AccountItem, bool) {
	it, ok := c.accounts[id]
	return it, ok
}

// Categories returns the groups for kind.
func (c *Catalog) Categories(k Kind) []CategoryGroup {
	if k == Income {
		return c.Income
	}
	return c.Expense
}

// Resolve fills the category and account names of r from its IDs. Names
// already present on r are kept.
func (c *Catalog) Resolve(r *Record) {
	if it, ok := c.Category(r.CategoryID); ok {
		if r.CategoryName == "" {
			r.CategoryName = it.Name
		}
		if r.CategoryGroup == "" {
			r.CategoryGroup = it.Group
		}
		if r.CategoryIcon == "" {
			r.CategoryIcon = it.Icon
		}
	}
	if it, ok := c.Account(r.AccountID); ok && r.AccountName == "" {
		r.AccountName = it.Name
	}
}

func expenseGroup(id int, name string, items ...[2]string) CategoryGroup {
	g := CategoryGroup{ID: id, Name: name}
	for i, it := range items {
		g.Items = append(g.Items, CategoryItem{ID: id*100 + i + 1, Group: name, Name: it[0], Icon: it[1]})
	}
	return g
}

func incomeGroup(id int, name string, items ...[2]string) CategoryGroup {
	g := CategoryGroup{ID: id, Name: name}
	for i, it := range items {
		g.Items = append(g.Items, CategoryItem{ID: id*1000 + i + 1, Group: name, Name: it[0], Icon: it[1]})
	}
	return g
}

// DefaultCatalog is the small-business category set the service ships with.
func DefaultCatalog() *Catalog {
	expense := []CategoryGroup{
		expenseGroup(1, "Goods & materials",
			[2]string{"Stock purchases", "buy"},
			[2]string{"Packaging", "box"},
		),
		expenseGroup(2, "Staff",
			[2]string{"Salaries", "salary"},
			[2]string{"Commissions", "bonus"},
			[2]string{"Benefits", "welfare"},
			[2]string{"Social security", "insurance"},
		),
		expenseGroup(3, "Operating costs",
			[2]string{"Rent", "rent"},
			[2]string{"Utilities", "water"},
			[2]string{"Property fees", "property"},
			[2]string{"Food & supplies", "food"},
			[2]string{"Office supplies", "office"},
			[2]string{"Shipping", "express"},
			[2]string{"Phone & internet", "phone"},
			[2]string{"Transport", "car"},
			[2]string{"Fuel", "oil"},
			[2]string{"Travel", "travel"},
			[2]string{"Hospitality", "host"},
		),
		expenseGroup(4, "Fixed assets",
			[2]string{"Office equipment", "device"},
		),
	}
	income := []CategoryGroup{
		incomeGroup(1, "Operating income",
			[2]string{"Sales", "pos"},
			[2]string{"Rental income", "house"},
			[2]string{"Side business", "gift"},
		),
		incomeGroup(2, "Financial income",
			[2]string{"Tax refunds", "tax"},
			[2]string{"Investments", "calendar_bill"},
			[2]string{"Interest", "bank_card"},
		),
		incomeGroup(3, "Other income",
			[2]string{"Scrap sales", "truck"},
			[2]string{"Refunds", "shopping"},
			[2]string{"Windfalls", "gold"},
		),
	}
	accounts := []AccountGroup{
		{ID: 1, Name: "Cash", Items: []AccountItem{{ID: 101, Group: "Cash", Name: "Cash", Icon: "cash"}}},
	}
	return NewCatalog(expense, income, accounts)
}
