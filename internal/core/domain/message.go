package domain

// Translatable carries the two language variants of a human-readable message.
type Translatable struct {
	EN string
	FA string
}

// In returns the variant for the requested language, defaulting to English.
func (t Translatable) In(lang Language) string {
	if lang == LanguageFA && t.FA != "" {
		return t.FA
	}
	return t.EN
}

// Messages surfaced by the runtime itself. Hosts add their own per entity.
var (
	MsgInternalError = Translatable{
		EN: "Something went wrong on our side",
		FA: "مشکلی در سمت ما پیش آمده است",
	}
	MsgEntityNotFound = Translatable{
		EN: "Requested item not found",
		FA: "مورد درخواست شده پیدا نشد",
	}
	MsgNoActiveCode = Translatable{
		EN: "No active code found, request a new one",
		FA: "کد فعالی یافت نشد، کد جدیدی درخواست کنید",
	}
	MsgChallengeTooSoon = Translatable{
		EN: "A code was sent recently, wait before requesting another",
		FA: "کدی به تازگی ارسال شده است، کمی صبر کنید",
	}
	MsgProviderUnavailable = Translatable{
		EN: "Code delivery provider is unavailable",
		FA: "سرویس ارسال کد در دسترس نیست",
	}
	MsgObjectNotResolvable = Translatable{
		EN: "Nested object could not be resolved",
		FA: "شیء تو در تو قابل تشخیص نیست",
	}
	MsgMissingRequiredField = Translatable{
		EN: "Required field is missing",
		FA: "فیلد اجباری ارسال نشده است",
	}
	MsgFieldNotValid = Translatable{
		EN: "Field value is not valid",
		FA: "مقدار فیلد معتبر نیست",
	}
	MsgFilesNotAccepted = Translatable{
		EN: "File arguments are not accepted on this surface",
		FA: "آرگومان فایل در این بخش پذیرفته نمی‌شود",
	}
	MsgMethodNotAllowed = Translatable{
		EN: "Method not allowed on this item",
		FA: "این متد روی این مورد مجاز نیست",
	}
	MsgBodyNotReadable = Translatable{
		EN: "Request body could not be parsed",
		FA: "بدنه درخواست قابل خواندن نیست",
	}
	MsgTooManyRequests = Translatable{
		EN: "Too many requests, slow down",
		FA: "تعداد درخواست‌ها زیاد است، کمی صبر کنید",
	}
)
