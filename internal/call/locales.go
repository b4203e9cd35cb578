package call

import (
	"strconv"
	"strings"
	"unicode"
)

// localeTable holds every phrase the composer can say in one language.
// Templates use {name} placeholders expanded by expand; the brand name stays
// in Latin script across locales so callees recognize it.
type localeTable struct {
	voice string

	greetingVendor string
	greetingRider  string
	orderAmount    string
	orderItems     string
	vendorMenu     string
	riderMenu      string
	prepMenu       string
	rejectionMenu  string

	goodbyeAccepted string
	goodbyeRejected string
	goodbyeNoInput  string
	riderAccepted   string
	riderDeclined   string

	retryPrefix string
	retryShort  string
	holdOn      string
	apology     string
	tryLater    string

	partnerWord string
	riderWord   string
	itemsMore   string
}

var locales = map[Language]localeTable{
	LanguageHindi: {
		voice: "hi-IN",

		greetingVendor: "नमस्ते {vendor}, {brand} की ओर से कॉल है। आपके लिए एक नया ऑर्डर आया है, ऑर्डर नंबर {order}।",
		greetingRider:  "नमस्ते {rider}, {brand} की ओर से कॉल है। {pickup} से ऑर्डर नंबर {order} की डिलीवरी के लिए आपको चुना गया है।",
		orderAmount:    "ऑर्डर की राशि {amount} रुपये है।",
		orderItems:     "ऑर्डर में {items} शामिल हैं।",
		vendorMenu:     "ऑर्डर स्वीकार करने के लिए 1 दबाएँ, अस्वीकार करने के लिए 0 दबाएँ।",
		riderMenu:      "डिलीवरी स्वीकार करने के लिए 1 दबाएँ, मना करने के लिए 0 दबाएँ।",
		prepMenu:       "ऑर्डर तैयार करने में कितने मिनट लगेंगे? 15 मिनट के लिए 1 दबाएँ, 30 मिनट के लिए 2 दबाएँ, 45 मिनट के लिए 3 दबाएँ।",
		rejectionMenu:  "कृपया कारण बताएँ। स्टॉक ख़त्म है तो 1 दबाएँ, बहुत व्यस्त हैं तो 2 दबाएँ, दुकान बंद हो रही है तो 3 दबाएँ, किसी और कारण के लिए 4 दबाएँ।",

		goodbyeAccepted: "धन्यवाद। राइडर {minutes} मिनट में पहुँचेगा। नमस्ते।",
		goodbyeRejected: "ठीक है, धन्यवाद। हम ऑर्डर किसी और को सौंप देंगे। नमस्ते।",
		goodbyeNoInput:  "हमें कोई जवाब नहीं मिला। हम बाद में फिर कोशिश करेंगे। धन्यवाद।",
		riderAccepted:   "धन्यवाद। ऑर्डर की पूरी जानकारी आपके ऐप पर भेज दी गई है। नमस्ते।",
		riderDeclined:   "ठीक है। यह डिलीवरी किसी और राइडर को दी जाएगी। धन्यवाद।",

		retryPrefix: "माफ़ कीजिए, हमें आपका जवाब नहीं मिला।",
		retryShort:  "कृपया फिर से कोशिश करें।",
		holdOn:      "कृपया एक क्षण प्रतीक्षा करें।",
		apology:     "क्षमा कीजिए, तकनीकी समस्या आ गई है। हम आपसे बाद में संपर्क करेंगे। नमस्ते।",
		tryLater:    "क्षमा कीजिए, अभी आपकी कॉल की जानकारी नहीं मिल पाई। कृपया बाद में कोशिश करें। नमस्ते।",

		partnerWord: "विक्रेता महोदय",
		riderWord:   "राइडर",
		itemsMore:   "तथा {count} अन्य",
	},
	LanguageEnglish: {
		voice: "en-IN",

		greetingVendor: "Hello {vendor}, this is a call from {brand}. You have a new order, order number {order}.",
		greetingRider:  "Hello {rider}, this is a call from {brand}. You have been assigned order number {order} for pickup from {pickup}.",
		orderAmount:    "The order total is {amount} rupees.",
		orderItems:     "The order includes {items}.",
		vendorMenu:     "Press 1 to accept the order, or press 0 to reject it.",
		riderMenu:      "Press 1 to accept the delivery, or press 0 to decline.",
		prepMenu:       "How many minutes will the order take? Press 1 for 15 minutes, 2 for 30 minutes, or 3 for 45 minutes.",
		rejectionMenu:  "Please tell us why. Press 1 if the item is out of stock, 2 if you are too busy, 3 if you are closing soon, or 4 for any other reason.",

		goodbyeAccepted: "Thank you. A rider will reach you in {minutes} minutes. Goodbye.",
		goodbyeRejected: "Alright, thank you. We will reassign the order. Goodbye.",
		goodbyeNoInput:  "We did not receive any response. We will try again later. Thank you.",
		riderAccepted:   "Thank you. The order details have been sent to your app. Goodbye.",
		riderDeclined:   "Alright. This delivery will be offered to another rider. Thank you.",

		retryPrefix: "Sorry, we did not catch that.",
		retryShort:  "Please try again.",
		holdOn:      "Please hold on for a moment.",
		apology:     "Sorry, something went wrong on our side. We will reach out again later. Goodbye.",
		tryLater:    "Sorry, we could not find your call right now. Please try again later. Goodbye.",

		partnerWord: "partner",
		riderWord:   "rider",
		itemsMore:   "and {count} more",
	},
	LanguageMarathi: {
		voice: "mr-IN",

		greetingVendor: "नमस्कार {vendor}, {brand} कडून कॉल आहे. तुमच्यासाठी एक नवीन ऑर्डर आली आहे, ऑर्डर क्रमांक {order}.",
		greetingRider:  "नमस्कार {rider}, {brand} कडून कॉल आहे. {pickup} येथून ऑर्डर क्रमांक {order} च्या डिलिव्हरीसाठी तुमची निवड झाली आहे.",
		orderAmount:    "ऑर्डरची रक्कम {amount} रुपये आहे.",
		orderItems:     "ऑर्डरमध्ये {items} आहेत.",
		vendorMenu:     "ऑर्डर स्वीकारण्यासाठी 1 दाबा, नाकारण्यासाठी 0 दाबा.",
		riderMenu:      "डिलिव्हरी स्वीकारण्यासाठी 1 दाबा, नाकारण्यासाठी 0 दाबा.",
		prepMenu:       "ऑर्डर तयार करण्यास किती मिनिटे लागतील? 15 मिनिटांसाठी 1 दाबा, 30 मिनिटांसाठी 2 दाबा, 45 मिनिटांसाठी 3 दाबा.",
		rejectionMenu:  "कृपया कारण सांगा. स्टॉक संपला असल्यास 1 दाबा, खूप व्यस्त असल्यास 2 दाबा, दुकान बंद होत असल्यास 3 दाबा, इतर कारणासाठी 4 दाबा.",

		goodbyeAccepted: "धन्यवाद. रायडर {minutes} मिनिटांत पोहोचेल. नमस्कार.",
		goodbyeRejected: "ठीक आहे, धन्यवाद. आम्ही ऑर्डर दुसऱ्याला देऊ. नमस्कार.",
		goodbyeNoInput:  "आम्हाला कोणतेही उत्तर मिळाले नाही. आम्ही नंतर पुन्हा प्रयत्न करू. धन्यवाद.",
		riderAccepted:   "धन्यवाद. ऑर्डरची माहिती तुमच्या ॲपवर पाठवली आहे. नमस्कार.",
		riderDeclined:   "ठीक आहे. ही डिलिव्हरी दुसऱ्या रायडरला दिली जाईल. धन्यवाद.",

		retryPrefix: "माफ करा, तुमचे उत्तर मिळाले नाही.",
		retryShort:  "कृपया पुन्हा प्रयत्न करा.",
		holdOn:      "कृपया एक क्षण थांबा.",
		apology:     "क्षमा करा, तांत्रिक अडचण आली आहे. आम्ही नंतर संपर्क करू. नमस्कार.",
		tryLater:    "क्षमा करा, सध्या तुमच्या कॉलची माहिती मिळाली नाही. कृपया नंतर प्रयत्न करा. नमस्कार.",

		partnerWord: "विक्रेते",
		riderWord:   "रायडर",
		itemsMore:   "व इतर {count}",
	},
}

// localeFor resolves a locale table, falling back to Hindi which is always
// present.
func localeFor(lang Language) localeTable {
	if t, ok := locales[lang]; ok {
		return t
	}
	return locales[LanguageHindi]
}

// expand substitutes {name} placeholders. Unknown placeholders are left
// untouched so a table typo is visible rather than silently swallowed.
func expand(template string, vars map[string]string) string {
	if len(vars) == 0 {
		return template
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// digitSpaced renders an order id for speech: numeric ids are read digit by
// digit, anything else is spoken as-is.
func digitSpaced(id string) string {
	for _, r := range id {
		if !unicode.IsDigit(r) {
			return id
		}
	}
	var b strings.Builder
	for i, r := range id {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// renderAmount prints whole amounts without decimals and fractional ones with
// two, matching how amounts are spoken.
func renderAmount(v float64) string {
	if v == float64(int64(v)) {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// renderItems speaks up to three line items and folds the rest into a
// localized "and N more".
func renderItems(items []LineItem, table localeTable) string {
	const spoken = 3
	parts := make([]string, 0, spoken+1)
	for i, it := range items {
		if i == spoken {
			break
		}
		name := strings.TrimSpace(it.Name)
		if name == "" {
			continue
		}
		if it.Quantity > 1 {
			parts = append(parts, name+" x "+strconv.Itoa(it.Quantity))
		} else {
			parts = append(parts, name)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	out := strings.Join(parts, ", ")
	if extra := len(items) - spoken; extra > 0 {
		out += " " + expand(table.itemsMore, map[string]string{"count": strconv.Itoa(extra)})
	}
	return out
}
